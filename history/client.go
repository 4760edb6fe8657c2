// Package history implements the one-shot HTTP fetches the sync engine
// issues on every scope change: the bounded historical event batch and the
// pending-approvals snapshot. Both calls are cancellable through their
// context; cancellation is an expected outcome of scope switching, never an
// error condition.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"goa.design/firehose/approval"
	"goa.design/firehose/event"
	"goa.design/firehose/telemetry"
)

// DefaultLimit bounds the historical batch when the caller does not override
// it.
const DefaultLimit = 200

type (
	// Client issues the history and pending-approvals fetches.
	Client struct {
		base    string
		httpc   *http.Client
		header  http.Header
		limit   int
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
	}

	// ClientOption customizes a Client.
	ClientOption func(*Client)

	// pendingApprovalWire is the approvals endpoint record shape.
	pendingApprovalWire struct {
		RequestID   string          `json:"requestId"`
		AgentID     string          `json:"agentId,omitempty"`
		ToolName    string          `json:"toolName"`
		Arguments   json.RawMessage `json:"arguments,omitempty"`
		RequestedAt time.Time       `json:"requestedAt"`
	}
)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpc = c }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ClientOption {
	return func(cl *Client) { cl.header.Set(key, value) }
}

// WithLimit bounds the historical batch size.
func WithLimit(limit int) ClientOption {
	return func(cl *Client) { cl.limit = limit }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

// WithTracer sets the tracer wrapped around fetches.
func WithTracer(t telemetry.Tracer) ClientOption {
	return func(cl *Client) { cl.tracer = t }
}

// NewClient constructs a Client against the API base URL, e.g.
// "https://api.example.com/v1".
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		base:    base,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		header:  make(http.Header),
		limit:   DefaultLimit,
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events fetches the bounded historical batch for a session, optionally
// narrowed to one thread. The result is returned oldest first; merging and
// deduplication against live events is the caller's concern.
func (c *Client) Events(ctx context.Context, sessionID, threadID string) ([]*event.Event, error) {
	ctx, span := c.tracer.Start(ctx, "firehose.history")
	defer span.End()
	start := time.Now()

	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.limit))
	if threadID != "" {
		q.Set("thread", threadID)
	}
	var body struct {
		Events []*event.Event `json:"events"`
	}
	if err := c.get(ctx, fmt.Sprintf("/sessions/%s/events", url.PathEscape(sessionID)), q, &body); err != nil {
		span.RecordError(err)
		return nil, err
	}
	c.metrics.RecordTimer(telemetry.MetricHistoryFetch, time.Since(start))
	return body.Events, nil
}

// PendingApprovals fetches the approvals still awaiting a decision for a
// session.
func (c *Client) PendingApprovals(ctx context.Context, sessionID string) ([]approval.Pending, error) {
	ctx, span := c.tracer.Start(ctx, "firehose.approvals")
	defer span.End()

	var body struct {
		PendingApprovals []pendingApprovalWire `json:"pendingApprovals"`
	}
	if err := c.get(ctx, fmt.Sprintf("/sessions/%s/approvals/pending", url.PathEscape(sessionID)), nil, &body); err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]approval.Pending, 0, len(body.PendingApprovals))
	for _, w := range body.PendingApprovals {
		out = append(out, approval.Pending{
			RequestID:   w.RequestID,
			AgentID:     w.AgentID,
			ToolName:    w.ToolName,
			Arguments:   w.Arguments,
			RequestedAt: w.RequestedAt,
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
