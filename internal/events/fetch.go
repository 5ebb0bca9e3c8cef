package events

import "time"

// FetchStart is emitted before an operation is sent to the transport.
// Context carries the request id.
type FetchStart struct {
	OperationName string
	OperationType string
	Query         string
	// Full is false when Query is a reduced document requesting only data
	// missing from the cache.
	Full bool
}

// FetchFinish is emitted after the transport returns.
type FetchFinish struct {
	OperationName string
	OperationType string
	Query         string
	Err           error
	ErrorCount    int
	Duration      time.Duration
}

// CacheResult is emitted when a query is checked against the cache.
type CacheResult struct {
	OperationName string
	Fingerprint   string
	Hit           bool
	MissingUnits  int
}
