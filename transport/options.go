package transport

import (
	"net/http"
	"time"
)

// Options configures the HTTP transport.
//
// Defaults:
// - Client:  http.DefaultClient
// - Timeout: 30s (used only if the context has no deadline)
type Options struct {
	Client  *http.Client
	Header  http.Header
	Timeout time.Duration
	// MaxErrorBody caps how much of a non-2xx body is kept in StatusError.
	MaxErrorBody int64
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client:       http.DefaultClient,
		Header:       http.Header{},
		Timeout:      30 * time.Second,
		MaxErrorBody: 4 << 10,
	}
}

func WithHTTPClient(c *http.Client) Option { return func(o *Options) { o.Client = c } }
func WithTimeout(d time.Duration) Option    { return func(o *Options) { o.Timeout = d } }
func WithHeader(key, value string) Option   { return func(o *Options) { o.Header.Add(key, value) } }
func WithMaxErrorBody(n int64) Option       { return func(o *Options) { o.MaxErrorBody = n } }
