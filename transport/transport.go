// Package transport abstracts the long-lived server-to-client push
// connection and implements the reconnecting connection state machine shared
// by every transport flavor. Concrete framings live in the subpackages:
// sse (the default text/event-stream client) and pulse (a Redis streams
// consumer group for clients co-located with the backend bus).
package transport

import (
	"context"
	"net/url"
	"sort"
	"strings"
)

type (
	// Frame is one raw message off the wire, before boundary validation.
	Frame struct {
		// ID is the server-assigned event id used for resume, when present.
		ID string
		// Data is the raw JSON envelope.
		Data []byte
	}

	// Conn is a single established connection delivering frames until it
	// fails or is closed.
	Conn interface {
		// Recv blocks until the next frame arrives, the connection fails, or
		// ctx is canceled. A nil error always accompanies a valid frame.
		Recv(ctx context.Context) (Frame, error)
		// Close tears the connection down. Idempotent.
		Close() error
	}

	// Dialer opens connections for a subscription scope. Implementations
	// present lastEventID to the server when non-empty so missed frames can
	// be replayed after a reconnect.
	Dialer interface {
		Dial(ctx context.Context, scope Scope, lastEventID string) (Conn, error)
	}

	// Scope is the server-side subscription filter a connection is keyed by.
	// Empty dimensions are unconstrained.
	Scope struct {
		// ProjectIDs restricts delivery to the named projects.
		ProjectIDs []string
		// SessionIDs restricts delivery to the named sessions.
		SessionIDs []string
		// ThreadIDs restricts delivery to the named threads.
		ThreadIDs []string
		// Global additionally requests system-level events.
		Global bool
	}
)

// Key returns a canonical string identifying the scope. Two scopes with the
// same dimensions in any order share a key, and therefore a connection.
func (s Scope) Key() string {
	var b strings.Builder
	b.WriteString("p=")
	b.WriteString(joinSorted(s.ProjectIDs))
	b.WriteString(";s=")
	b.WriteString(joinSorted(s.SessionIDs))
	b.WriteString(";t=")
	b.WriteString(joinSorted(s.ThreadIDs))
	if s.Global {
		b.WriteString(";g")
	}
	return b.String()
}

// Query encodes the scope as the stream endpoint query string: comma-joined
// id lists per dimension plus a global flag.
func (s Scope) Query() url.Values {
	q := url.Values{}
	if len(s.ProjectIDs) > 0 {
		q.Set("projects", strings.Join(s.ProjectIDs, ","))
	}
	if len(s.SessionIDs) > 0 {
		q.Set("sessions", strings.Join(s.SessionIDs, ","))
	}
	if len(s.ThreadIDs) > 0 {
		q.Set("threads", strings.Join(s.ThreadIDs, ","))
	}
	if s.Global {
		q.Set("global", "true")
	}
	return q
}

func joinSorted(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
