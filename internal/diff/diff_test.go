package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	selection "github.com/hanpama/graphcache/internal/selection"
	store "github.com/hanpama/graphcache/internal/store"
)

func mustAnalyze(t *testing.T, q string, vars map[string]any) *selection.Descriptor {
	t.Helper()
	d, err := selection.Analyze(q, "", vars)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	return d
}

func commit(s *store.Store, p *Plan, data map[string]any) store.Change {
	tx := s.Begin()
	p.Merge(tx, data)
	return s.Commit(tx)
}

func TestCompute_EmptyCacheFetchesEverything(t *testing.T) {
	s := store.New()
	d := mustAnalyze(t, `{ user(id: 8) { name } }`, nil)

	p := Compute(d, s, false)
	require.False(t, p.Hit())
	require.Equal(t, `{user(id:8){name}}`, p.Query)
}

func TestCompute_RequestsOnlyMissingUnit(t *testing.T) {
	s := store.New()
	q1 := mustAnalyze(t, `{ user(id: 8) { __typename id name } viewer { id } }`, nil)
	commit(s, Compute(q1, s, false), map[string]any{
		"user":   map[string]any{"__typename": "User", "id": "8", "name": "Ada"},
		"viewer": map[string]any{"id": "me"},
	})

	q2 := mustAnalyze(t, `{ viewer { id } user(id: 8) { name username } }`, nil)
	p := Compute(q2, s, false)
	require.False(t, p.Hit())
	require.Equal(t, `{user(id:8){name username}}`, p.Query)
	require.Nil(t, p.Variables)

	ch := commit(s, p, map[string]any{
		"user": map[string]any{"name": "Ada", "username": "ada"},
	})
	require.Equal(t, []store.ID{"User:8"}, ch.IDs)

	p = Compute(q2, s, false)
	require.True(t, p.Hit())
	want := map[string]any{
		"viewer": map[string]any{"id": "me"},
		"user":   map[string]any{"name": "Ada", "username": "ada"},
	}
	if diff := cmp.Diff(want, p.Read.Data); diff != "" {
		t.Fatalf("read mismatch (-want +got):\n%s", diff)
	}
}

func TestCompute_NestedUnitKeepsAncestorsAndVariables(t *testing.T) {
	s := store.New()
	vars := map[string]any{"first": 2, "size": 64}
	src := `query Feed($first: Int, $size: Int) { me { name friends(first: $first) { name } profile { avatar(size: $size) bio } } }`

	seed := mustAnalyze(t, `{ me { name friends(first: 2) { name } profile { bio } } }`, nil)
	commit(s, Compute(seed, s, false), map[string]any{
		"me": map[string]any{
			"name":    "Ada",
			"friends": []any{map[string]any{"name": "Bob"}},
			"profile": map[string]any{"bio": "hi"},
		},
	})

	d := mustAnalyze(t, src, vars)
	p := Compute(d, s, false)
	require.Equal(t, `query Feed($size:Int){me{profile{avatar(size:$size) bio}}}`, p.Query)
	require.Equal(t, map[string]any{"size": 64}, p.Variables)

	commit(s, p, map[string]any{
		"me": map[string]any{"profile": map[string]any{"avatar": "a.png", "bio": "hi"}},
	})
	p = Compute(d, s, false)
	require.True(t, p.Hit())
	require.Equal(t, "Bob", p.Read.Data["me"].(map[string]any)["friends"].([]any)[0].(map[string]any)["name"])
}

func TestCompute_SiblingUnitsShareAncestors(t *testing.T) {
	s := store.New()
	commit(s, Compute(mustAnalyze(t, `{ a { x { k } y { k } } }`, nil), s, false), map[string]any{
		"a": map[string]any{"x": map[string]any{"k": 1}, "y": map[string]any{"k": 2}},
	})

	p := Compute(mustAnalyze(t, `{ a { x { k l } y { k l } } }`, nil), s, false)
	require.Equal(t, `{a{x{k l} y{k l}}}`, p.Query)
}

func TestCompute_SkippedBranchesAreNotMissing(t *testing.T) {
	s := store.New()
	commit(s, Compute(mustAnalyze(t, `{ user(id: 1) { name } }`, nil), s, false), map[string]any{
		"user": map[string]any{"name": "Ada"},
	})

	d := mustAnalyze(t, `query($full: Boolean!) { user(id: 1) { name email @include(if: $full) } }`, map[string]any{"full": false})
	require.True(t, Compute(d, s, false).Hit())
}

func TestCompute_ForceFetchSendsSource(t *testing.T) {
	s := store.New()
	src := `query Q($id: ID!) { user(id: $id) { name } }`
	d := mustAnalyze(t, src, map[string]any{"id": "8"})
	commit(s, Compute(d, s, false), map[string]any{"user": map[string]any{"name": "Ada"}})

	p := Compute(d, s, true)
	require.True(t, p.Full())
	require.Nil(t, p.Read)
	require.Equal(t, src, p.Query)
	require.Equal(t, map[string]any{"id": "8"}, p.Variables)

	commit(s, p, map[string]any{"user": map[string]any{"name": "Ada L."}})
	require.Equal(t, "Ada L.", s.ReadQuery(d).Data["user"].(map[string]any)["name"])
}

func TestMerge_NullAncestorIsStored(t *testing.T) {
	s := store.New()
	commit(s, Compute(mustAnalyze(t, `{ me { profile { bio } } }`, nil), s, false), map[string]any{
		"me": map[string]any{"profile": map[string]any{"bio": "hi"}},
	})

	d := mustAnalyze(t, `{ me { profile { bio avatar } } }`, nil)
	p := Compute(d, s, false)
	commit(s, p, map[string]any{"me": nil})

	res := s.ReadQuery(d)
	require.True(t, res.Complete)
	require.Equal(t, map[string]any{"me": nil}, res.Data)
}
