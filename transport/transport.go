// Package transport sends GraphQL operations to a server.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when a response carries neither data nor
// errors.
var ErrEmptyResponse = errors.New("transport: response has no data and no errors")

// Request is a GraphQL request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL response body.
type Response struct {
	Data       map[string]any `json:"data"`
	Errors     []Error        `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Location is a position in the request document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is a GraphQL execution error as reported by the server.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Locations  []Location     `json:"locations,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e Error) Error() string { return e.Message }

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transport: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("transport: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Transport executes one operation. A returned error means the operation
// produced no usable response; execution errors travel inside Response.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req *Request) (*Response, error)

func (f Func) Execute(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }
