package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	reqid "github.com/hanpama/graphcache/internal/reqid"
)

// RequestIDHeader carries the client request id of a fetch.
const RequestIDHeader = "Graphql-Request-Id"

// HTTP posts operations as JSON to a single endpoint.
type HTTP struct {
	endpoint string
	opt      *Options
}

// NewHTTP creates an HTTP transport for endpoint.
func NewHTTP(endpoint string, opts ...Option) *HTTP {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	return &HTTP{endpoint: endpoint, opt: o}
}

func (t *HTTP) Execute(ctx context.Context, req *Request) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok && t.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opt.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request: %w", err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	for k, vs := range t.opt.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/graphql-response+json, application/json")
	if rid, ok := reqid.FromContext(ctx); ok {
		hr.Header.Set(RequestIDHeader, strconv.FormatInt(rid, 10))
	}

	resp, err := t.opt.Client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, t.opt.MaxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("transport: decode response: %w", err)
	}
	if out.Data == nil && len(out.Errors) == 0 {
		return nil, ErrEmptyResponse
	}
	return &out, nil
}
