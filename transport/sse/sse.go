// Package sse implements the default firehose transport: a Server-Sent
// Events client over net/http. The server pushes one JSON envelope per SSE
// message; the client presents the last delivered event id on reconnect so
// the server may replay missed frames (the dedup layer keeps replays
// harmless either way).
package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"goa.design/firehose/transport"
)

type (
	// Dialer opens SSE connections against a stream endpoint.
	Dialer struct {
		endpoint string
		client   *http.Client
		header   http.Header
	}

	// DialerOption customizes a Dialer.
	DialerOption func(*Dialer)

	conn struct {
		body io.ReadCloser
		br   *bufio.Reader

		closeOnce sync.Once
	}
)

// WithHTTPClient overrides the HTTP client used to dial. The default client
// has no timeout: SSE responses are long-lived by design and are torn down
// via request context cancellation instead.
func WithHTTPClient(c *http.Client) DialerOption {
	return func(d *Dialer) { d.client = c }
}

// WithHeader adds a header to every dial request (authorization, tenant
// selection).
func WithHeader(key, value string) DialerOption {
	return func(d *Dialer) { d.header.Set(key, value) }
}

// NewDialer constructs a Dialer for the given stream endpoint URL.
func NewDialer(endpoint string, opts ...DialerOption) *Dialer {
	d := &Dialer{
		endpoint: endpoint,
		client:   &http.Client{},
		header:   make(http.Header),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens the stream for the given scope. The scope is encoded as query
// parameters; lastEventID, when non-empty, is presented via the standard
// Last-Event-ID header. The returned Conn stays open until the server closes
// it, the network fails, or ctx is canceled.
func (d *Dialer) Dial(ctx context.Context, scope transport.Scope, lastEventID string) (transport.Conn, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse stream endpoint: %w", err)
	}
	q := u.Query()
	for k, vs := range scope.Query() {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	for k, vs := range d.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("dial stream: unexpected status %d", resp.StatusCode)
	}
	return &conn{body: resp.Body, br: bufio.NewReader(resp.Body)}, nil
}

// Recv parses the next SSE message. Comment lines and unknown fields are
// skipped per the text/event-stream grammar; multiple data lines join with a
// newline. Read errors surface as-is, including the error triggered by
// context cancellation tearing down the response body.
func (c *conn) Recv(ctx context.Context) (transport.Frame, error) {
	var (
		id   string
		data [][]byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return transport.Frame{}, err
		}
		line, err := c.br.ReadString('\n')
		if err != nil {
			return transport.Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) == 0 {
				// Keep-alive or id-only message; keep reading.
				id = ""
				continue
			}
			return transport.Frame{ID: id, Data: bytes.Join(data, []byte("\n"))}, nil
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimPrefix(strings.TrimPrefix(line, "id:"), " ")
		case strings.HasPrefix(line, "data:"):
			data = append(data, []byte(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")))
		default:
			// event:, retry: and future fields carry no envelope payload.
		}
	}
}

// Close tears down the response body, unblocking any in-flight Recv.
func (c *conn) Close() error {
	c.closeOnce.Do(func() { c.body.Close() })
	return nil
}
