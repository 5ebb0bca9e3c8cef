package transport

import (
	"context"
	"fmt"
	"sync"
)

// MockHandler answers one request in tests.
type MockHandler func(ctx context.Context, req *Request) (*Response, error)

// Call records one Execute invocation.
type Call struct {
	Query         string
	OperationName string
	Variables     map[string]any
}

// Mock is a Transport for tests. Each request is answered by the handler
// registered for its exact query text, falling back to Default. Calls are
// recorded, and Pause holds requests until Resume.
type Mock struct {
	mu       sync.Mutex
	handlers map[string]MockHandler
	calls    []Call
	gate     chan struct{}

	Default MockHandler
}

// NewMock creates a Mock with handlers keyed by query text.
func NewMock(handlers map[string]MockHandler) *Mock {
	m := &Mock{handlers: make(map[string]MockHandler)}
	for k, v := range handlers {
		m.handlers[k] = v
	}
	return m
}

// Handle registers h for query.
func (m *Mock) Handle(query string, h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[query] = h
}

// Pause makes subsequent requests wait until Resume.
func (m *Mock) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

// Resume releases paused requests.
func (m *Mock) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

func (m *Mock) Execute(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Query: req.Query, OperationName: req.OperationName, Variables: req.Variables})
	h, ok := m.handlers[req.Query]
	if !ok {
		h = m.Default
	}
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h == nil {
		return nil, fmt.Errorf("transport: no mock handler for %q", req.Query)
	}
	return h(ctx, req)
}

// Calls returns the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Queries returns the query text of each recorded call.
func (m *Mock) Queries() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Query
	}
	return out
}

// Reset clears the call log.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Respond returns a handler that always answers with data.
func Respond(data map[string]any, errs ...Error) MockHandler {
	return func(context.Context, *Request) (*Response, error) {
		return &Response{Data: data, Errors: errs}, nil
	}
}

// Fail returns a handler that always fails with err.
func Fail(err error) MockHandler {
	return func(context.Context, *Request) (*Response, error) {
		return nil, err
	}
}
