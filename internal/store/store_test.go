package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	selection "github.com/hanpama/graphcache/internal/selection"
)

func mustAnalyze(t *testing.T, q string) *selection.Descriptor {
	t.Helper()
	d, err := selection.Analyze(q, "", nil)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	return d
}

func write(t *testing.T, s *Store, q string, data map[string]any) Change {
	t.Helper()
	tx := s.Begin()
	tx.WriteQuery(mustAnalyze(t, q), data)
	return s.Commit(tx)
}

func readQuery(t *testing.T, s *Store, q string) *ReadResult {
	t.Helper()
	return s.ReadQuery(mustAnalyze(t, q))
}

func todoListData() map[string]any {
	return map[string]any{
		"todoList": map[string]any{
			"__typename": "TodoList",
			"id":         "5",
			"title":      "Groceries",
			"tasks": []any{
				map[string]any{"__typename": "Task", "id": "t1", "name": "milk", "completed": false},
				map[string]any{"__typename": "Task", "id": "t2", "name": "eggs", "completed": true},
			},
		},
	}
}

const todoListQuery = `{ todoList(id: 5) { __typename id title tasks { __typename id name completed } } }`

func TestWriteRead_RoundTrip(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	res := readQuery(t, s, todoListQuery)
	require.True(t, res.Complete)
	require.Empty(t, res.Missing)
	if diff := cmp.Diff(todoListData(), res.Data); diff != "" {
		t.Fatalf("read mismatch (-want +got):\n%s", diff)
	}

	want := map[ID]Record{
		RootQuery: {`todoList({"id":5})`: Ref{ID: "TodoList:5"}},
		"TodoList:5": {
			"__typename": "TodoList",
			"id":         "5",
			"title":      "Groceries",
			"tasks":      []any{Ref{ID: "Task:t1"}, Ref{ID: "Task:t2"}},
		},
		"Task:t1": {"__typename": "Task", "id": "t1", "name": "milk", "completed": false},
		"Task:t2": {"__typename": "Task", "id": "t2", "name": "eggs", "completed": true},
	}
	if diff := cmp.Diff(want, s.Extract()); diff != "" {
		t.Fatalf("extract mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_MergesSharedEntities(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())
	ch := write(t, s, `{ task(id: "t1") { __typename id name } }`, map[string]any{
		"task": map[string]any{"__typename": "Task", "id": "t1", "name": "oat milk"},
	})
	require.Equal(t, []ID{RootQuery, "Task:t1"}, ch.IDs)

	res := readQuery(t, s, todoListQuery)
	require.True(t, res.Complete)
	tasks := res.Data["todoList"].(map[string]any)["tasks"].([]any)
	require.Equal(t, "oat milk", tasks[0].(map[string]any)["name"])
	require.Equal(t, false, tasks[0].(map[string]any)["completed"])
}

func TestWrite_SyntheticIdentities(t *testing.T) {
	s := New()
	write(t, s, `{ viewer { settings { theme } feed { title } } }`, map[string]any{
		"viewer": map[string]any{
			"settings": map[string]any{"theme": "dark"},
			"feed":     []any{map[string]any{"title": "a"}, map[string]any{"title": "b"}},
		},
	})

	got := s.Extract()
	want := map[ID]Record{
		RootQuery: {"viewer": Ref{ID: "$ROOT_QUERY.viewer"}},
		"$ROOT_QUERY.viewer": {
			"settings": Ref{ID: "$ROOT_QUERY.viewer.settings"},
			"feed":     []any{Ref{ID: "$ROOT_QUERY.viewer.feed.0"}, Ref{ID: "$ROOT_QUERY.viewer.feed.1"}},
		},
		"$ROOT_QUERY.viewer.settings": {"theme": "dark"},
		"$ROOT_QUERY.viewer.feed.0":   {"title": "a"},
		"$ROOT_QUERY.viewer.feed.1":   {"title": "b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("extract mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_CustomIDFunc(t *testing.T) {
	s := New(WithIDFunc(func(obj map[string]any) (ID, bool) {
		key, ok := obj["key"].(string)
		return ID("K:" + key), ok
	}))
	write(t, s, `{ thing { key } }`, map[string]any{"thing": map[string]any{"key": "x"}})
	_, ok := s.Record("K:x")
	require.True(t, ok)
}

func TestWrite_AliasesStoreUnderFieldName(t *testing.T) {
	s := New()
	write(t, s, `{ small: avatar(size: 16) big: avatar(size: 64) }`, map[string]any{"small": "s.png", "big": "b.png"})
	rec, _ := s.Record(RootQuery)
	if diff := cmp.Diff(Record{`avatar({"size":16})`: "s.png", `avatar({"size":64})`: "b.png"}, rec); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	res := readQuery(t, s, `{ avatar(size: 64) }`)
	require.True(t, res.Complete)
	require.Equal(t, map[string]any{"avatar": "b.png"}, res.Data)
}

func TestRead_MissingRootField(t *testing.T) {
	s := New()
	write(t, s, `{ a }`, map[string]any{"a": 1})

	res := readQuery(t, s, `{ a b }`)
	require.False(t, res.Complete)
	require.Equal(t, map[string]any{"a": 1}, res.Data)
	require.Len(t, res.Missing, 1)
	m := res.Missing[0]
	require.Equal(t, RootQuery, m.ParentID)
	require.Equal(t, []string{"b"}, m.Path)
	require.Equal(t, "b", m.Node.Name)
	require.Empty(t, m.Ancestors)
}

func TestRead_MissingNestedFieldEscalatesToObject(t *testing.T) {
	s := New()
	write(t, s, `{ user(id: 8) { __typename id name } }`, map[string]any{
		"user": map[string]any{"__typename": "User", "id": "8", "name": "Ada"},
	})

	res := readQuery(t, s, `{ user(id: 8) { name username } }`)
	require.False(t, res.Complete)
	require.Equal(t, map[string]any{"user": map[string]any{"name": "Ada"}}, res.Data)
	require.Len(t, res.Missing, 1)
	m := res.Missing[0]
	require.Equal(t, RootQuery, m.ParentID)
	require.Equal(t, []string{"user"}, m.Path)
	require.Equal(t, "user", m.Node.Name)
}

func TestRead_MissingTwoLevelsDown(t *testing.T) {
	s := New()
	write(t, s, `{ me { name profile { avatar } } }`, map[string]any{
		"me": map[string]any{"name": "Ada", "profile": map[string]any{"avatar": "a.png"}},
	})

	res := readQuery(t, s, `{ me { name profile { avatar bio } } }`)
	require.Len(t, res.Missing, 1)
	m := res.Missing[0]
	require.Equal(t, ID("$ROOT_QUERY.me"), m.ParentID)
	require.Equal(t, []string{"me", "profile"}, m.Path)
	require.Len(t, m.Ancestors, 1)
	require.Equal(t, "me", m.Ancestors[0].Name)
	require.Equal(t, "profile", m.Node.Name)
}

func TestRead_ListIsAllOrNothing(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	res := readQuery(t, s, `{ todoList(id: 5) { title tasks { name dueDate } } }`)
	require.Len(t, res.Missing, 1)
	m := res.Missing[0]
	require.Equal(t, ID("TodoList:5"), m.ParentID)
	require.Equal(t, []string{"todoList", "tasks"}, m.Path)
	require.Equal(t, "tasks", m.Node.Name)
}

func TestRead_InlineFragmentsFollowTypename(t *testing.T) {
	s := New()
	write(t, s, `{ node(id: 1) { __typename id ... on User { name } } }`, map[string]any{
		"node": map[string]any{"__typename": "User", "id": "1", "name": "Ada"},
	})

	res := readQuery(t, s, `{ node(id: 1) { __typename id ... on User { name } ... on Post { title } } }`)
	require.True(t, res.Complete)
	require.Equal(t, "Ada", res.Data["node"].(map[string]any)["name"])

	res = readQuery(t, s, `{ node(id: 1) { __typename ... on User { email } } }`)
	require.False(t, res.Complete)
}

func TestRead_NullValuesAreComplete(t *testing.T) {
	s := New()
	write(t, s, `{ user(id: 1) { name } }`, map[string]any{"user": nil})

	res := readQuery(t, s, `{ user(id: 1) { name } }`)
	require.True(t, res.Complete)
	require.Equal(t, map[string]any{"user": nil}, res.Data)
}

func TestRead_DanglingReference(t *testing.T) {
	s := New()
	tx := s.Begin()
	tx.Merge(RootQuery, Record{"user": Ref{ID: "User:404"}})
	s.Commit(tx)

	res := readQuery(t, s, `{ user { id } }`)
	require.False(t, res.Complete)
	require.Len(t, res.Missing, 1)
	require.Len(t, res.Inconsistencies, 1)
	require.Equal(t, ID("User:404"), res.Inconsistencies[0].ID)
	require.Equal(t, []string{"user"}, res.Inconsistencies[0].Path)
	require.Contains(t, res.Inconsistencies[0].Error(), "User:404")
}

func TestRead_DependenciesCoverTouchedRecords(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())
	res := readQuery(t, s, todoListQuery)

	unrelated := write(t, s, `{ other }`, map[string]any{"other": 1})
	require.Equal(t, []ID{RootQuery}, unrelated.IDs)
	require.True(t, unrelated.Affects(res.Deps))

	task := write(t, s, `{ task(id: "t2") { __typename id completed } }`, map[string]any{
		"task": map[string]any{"__typename": "Task", "id": "t2", "completed": false},
	})
	require.True(t, task.Affects(res.Deps))

	elsewhere := s.Begin()
	elsewhere.Merge("Task:t9", Record{"name": "x"})
	require.False(t, s.Commit(elsewhere).Affects(res.Deps))
}

func TestCommit_ChangeIsPrecise(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	same := write(t, s, todoListQuery, todoListData())
	require.True(t, same.Empty())

	data := todoListData()
	data["todoList"].(map[string]any)["tasks"].([]any)[1].(map[string]any)["completed"] = false
	ch := write(t, s, todoListQuery, data)
	require.Equal(t, []ID{"Task:t2"}, ch.IDs)
}

func TestTx_ReadsOwnWrites(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	tx := s.Begin()
	tx.Merge("Task:t1", Record{"completed": true})
	rec, ok := tx.Record("Task:t1")
	require.True(t, ok)
	require.Equal(t, true, rec["completed"])
	require.Equal(t, "milk", rec["name"])

	res := tx.ReadQuery(mustAnalyze(t, todoListQuery))
	require.True(t, res.Complete)

	committed, _ := s.Record("Task:t1")
	require.Equal(t, false, committed["completed"])
}

func merge(id ID, fields Record) func(*Tx) error {
	return func(tx *Tx) error {
		tx.Merge(id, fields)
		return nil
	}
}

// appendTask adds a task to TodoList:5 as seen by tx.
func appendTask(id ID, name string) func(*Tx) error {
	return func(tx *Tx) error {
		list, ok := tx.Record("TodoList:5")
		if !ok {
			return fmt.Errorf("todo list not cached")
		}
		tasks, _ := list["tasks"].([]any)
		tx.Merge(id, Record{"__typename": "Task", "id": strings.TrimPrefix(string(id), "Task:"), "name": name, "completed": false})
		tx.Merge("TodoList:5", Record{"tasks": append(tasks, Ref{ID: id})})
		return nil
	}
}

func taskRefs(t *testing.T, s *Store) []any {
	t.Helper()
	rec, ok := s.Record("TodoList:5")
	require.True(t, ok)
	return rec["tasks"].([]any)
}

func TestLayers_ApplyAndRemoveInAnyOrder(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())
	before, err := MarshalSnapshot(s.Extract())
	require.NoError(t, err)

	ch, err := s.PushLayer("a", merge("Task:t1", Record{"completed": true}))
	require.NoError(t, err)
	require.Equal(t, []ID{"Task:t1"}, ch.IDs)

	_, err = s.PushLayer("b", func(tx *Tx) error {
		tx.Merge("Task:t1", Record{"name": "soy milk"})
		tx.Merge("Task:t2", Record{"name": "bread"})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, s.Layers())

	rec, _ := s.Record("Task:t1")
	require.Equal(t, true, rec["completed"])
	require.Equal(t, "soy milk", rec["name"])

	ch = s.RemoveLayer("a")
	require.Equal(t, []ID{"Task:t1"}, ch.IDs)
	rec, _ = s.Record("Task:t1")
	require.Equal(t, false, rec["completed"])
	require.Equal(t, "soy milk", rec["name"])

	s.RemoveLayer("b")
	require.Empty(t, s.Layers())
	after, err := MarshalSnapshot(s.Extract())
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
}

func TestLayers_FailedUpdateIsNotPushed(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	ch, err := s.PushLayer("m1", func(tx *Tx) error {
		tx.Merge("Task:t1", Record{"completed": true})
		return fmt.Errorf("boom")
	})
	require.EqualError(t, err, "boom")
	require.True(t, ch.Empty())
	require.Empty(t, s.Layers())
	rec, _ := s.Record("Task:t1")
	require.Equal(t, false, rec["completed"])
}

func TestLayers_RemovingLowerLayerReplaysUpperOnes(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())
	before, err := MarshalSnapshot(s.Extract())
	require.NoError(t, err)

	_, err = s.PushLayer("a", appendTask("Task:a", "butter"))
	require.NoError(t, err)
	_, err = s.PushLayer("b", appendTask("Task:b", "jam"))
	require.NoError(t, err)
	require.Equal(t, []any{Ref{ID: "Task:t1"}, Ref{ID: "Task:t2"}, Ref{ID: "Task:a"}, Ref{ID: "Task:b"}}, taskRefs(t, s))

	ch := s.RemoveLayer("a")
	require.ElementsMatch(t, []ID{"Task:a", "TodoList:5"}, ch.IDs)
	require.Equal(t, []any{Ref{ID: "Task:t1"}, Ref{ID: "Task:t2"}, Ref{ID: "Task:b"}}, taskRefs(t, s))
	_, found := s.Record("Task:a")
	require.False(t, found)

	res := readQuery(t, s, todoListQuery)
	require.True(t, res.Complete)
	require.Empty(t, res.Inconsistencies)

	s.RemoveLayer("b")
	after, err := MarshalSnapshot(s.Extract())
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
}

func TestLayers_SurviveBaseCommits(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	_, err := s.PushLayer("m1", merge("Task:t1", Record{"completed": true}))
	require.NoError(t, err)

	server := s.Begin()
	server.Merge("Task:t1", Record{"name": "almond milk", "completed": false})
	s.Commit(server)

	rec, _ := s.Record("Task:t1")
	require.Equal(t, true, rec["completed"])
	require.Equal(t, "almond milk", rec["name"])

	s.RemoveLayer("m1")
	rec, _ = s.Record("Task:t1")
	require.Equal(t, false, rec["completed"])
}

func TestLayers_ReplayOverNewBase(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	_, err := s.PushLayer("m1", appendTask("Task:tmp", "butter"))
	require.NoError(t, err)

	data := todoListData()
	list := data["todoList"].(map[string]any)
	list["tasks"] = append(list["tasks"].([]any)[:1], map[string]any{"__typename": "Task", "id": "t3", "name": "tea", "completed": false})
	write(t, s, todoListQuery, data)

	require.Equal(t, []any{Ref{ID: "Task:t1"}, Ref{ID: "Task:t3"}, Ref{ID: "Task:tmp"}}, taskRefs(t, s))
}

func TestBegin_DoesNotSeeLayers(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())
	_, err := s.PushLayer("m1", appendTask("Task:tmp", "butter"))
	require.NoError(t, err)

	tx := s.Begin()
	_, found := tx.Record("Task:tmp")
	require.False(t, found)
	require.NoError(t, appendTask("Task:t2b", "bread")(tx))

	s.Settle("m1", tx)
	require.Empty(t, s.Layers())
	require.Equal(t, []any{Ref{ID: "Task:t1"}, Ref{ID: "Task:t2"}, Ref{ID: "Task:t2b"}}, taskRefs(t, s))
	_, found = s.Record("Task:tmp")
	require.False(t, found)
}

func TestSettle_ReplacesLayerWithResult(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	_, err := s.PushLayer("m1", merge("Task:t1", Record{"completed": true}))
	require.NoError(t, err)

	result := s.Begin()
	result.Merge("Task:t1", Record{"completed": true})
	ch := s.Settle("m1", result)
	require.True(t, ch.Empty())
	require.Empty(t, s.Layers())

	rec, _ := s.Record("Task:t1")
	require.Equal(t, true, rec["completed"])
}

func TestReset_DropsEverything(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())
	_, err := s.PushLayer("m1", merge("Task:t1", Record{"completed": true}))
	require.NoError(t, err)

	ch := s.Reset()
	require.Len(t, ch.IDs, 4)
	require.Empty(t, s.Extract())
	require.Empty(t, s.Layers())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := New()
	write(t, s, todoListQuery, todoListData())

	b, err := MarshalSnapshot(s.Extract())
	require.NoError(t, err)
	require.Contains(t, string(b), `{"__ref":"TodoList:5"}`)

	snap, err := UnmarshalSnapshot(b)
	require.NoError(t, err)
	if diff := cmp.Diff(s.Extract(), snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	restored := New()
	restored.Restore(snap)
	require.True(t, readQuery(t, restored, todoListQuery).Complete)

	_, err = UnmarshalSnapshot([]byte(`[`))
	require.Error(t, err)
}
