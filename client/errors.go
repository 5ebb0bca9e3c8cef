package client

import (
	"errors"

	selection "github.com/hanpama/graphcache/internal/selection"
)

// ErrMalformedQuery is returned for documents that cannot be analyzed.
// Errors wrap it with details.
var ErrMalformedQuery = selection.ErrMalformedQuery

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("client: closed")

// NetworkError reports a transport failure. The operation produced no
// response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "client: network error: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }
