package client

import (
	"encoding/json"

	selection "github.com/hanpama/graphcache/internal/selection"
	transport "github.com/hanpama/graphcache/transport"
)

// GraphQLError is an execution error returned by the server alongside data.
type GraphQLError struct {
	Message    string               `json:"message"`
	Path       []any                `json:"path,omitempty"`
	Locations  []transport.Location `json:"locations,omitempty"`
	Extensions map[string]any       `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string { return e.Message }

// Result is what observers and callers receive.
type Result struct {
	Data   map[string]any
	Errors []GraphQLError
	// Partial is set when Data lacks some selected fields.
	Partial bool

	sel selection.SelectionSet
}

// MarshalJSON encodes the result as a GraphQL response, with data fields in
// selection order.
func (r *Result) MarshalJSON() ([]byte, error) {
	data, err := selection.MarshalOrdered(r.sel, r.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Data   json.RawMessage `json:"data"`
		Errors []GraphQLError  `json:"errors,omitempty"`
	}{Data: data, Errors: r.Errors})
}

func convertErrors(errs []transport.Error) []GraphQLError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]GraphQLError, len(errs))
	for i, e := range errs {
		out[i] = GraphQLError{Message: e.Message, Path: e.Path, Locations: e.Locations, Extensions: e.Extensions}
	}
	return out
}
