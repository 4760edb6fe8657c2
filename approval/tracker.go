// Package approval tracks tool-approval requests awaiting a human or agent
// decision. Pending approvals are ephemeral UI state: they are keyed by
// request id, removed on the matching response, and never contribute to the
// conversation timeline.
package approval

import (
	"encoding/json"
	"time"

	"goa.design/firehose/event"
)

// Pending is an outstanding approval decision.
type Pending struct {
	// RequestID keys the approval until its response arrives.
	RequestID string
	// AgentID identifies the requesting agent.
	AgentID string
	// ToolName is the tool awaiting approval.
	ToolName string
	// Arguments is the marshaled tool input under review.
	Arguments json.RawMessage
	// RequestedAt is the request event timestamp.
	RequestedAt time.Time
	// Raw is the originating TOOL_APPROVAL_REQUEST event.
	Raw *event.Event
}

// Tracker holds the set of pending approvals in request order. It is owned
// by a single subscriber and is not safe for concurrent use.
type Tracker struct {
	byID  map[string]*Pending
	order []string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{byID: make(map[string]*Pending)}
}

// OnRequest adds a pending approval. A request re-delivered with an id
// already tracked (history/live overlap) refreshes the entry in place
// without changing its position.
func (t *Tracker) OnRequest(p Pending) {
	if _, ok := t.byID[p.RequestID]; ok {
		t.byID[p.RequestID] = &p
		return
	}
	t.byID[p.RequestID] = &p
	t.order = append(t.order, p.RequestID)
}

// OnResponse removes the approval with the given request id and reports
// whether it was tracked. Removing an unknown id is a no-op.
func (t *Tracker) OnResponse(requestID string) bool {
	return t.remove(requestID)
}

// Clear removes a pending approval by id, for user-driven dismissal. Same
// no-op semantics as OnResponse.
func (t *Tracker) Clear(requestID string) bool {
	return t.remove(requestID)
}

// List returns the pending approvals in request order.
func (t *Tracker) List() []*Pending {
	out := make([]*Pending, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Len returns the number of pending approvals.
func (t *Tracker) Len() int { return len(t.order) }

// Reset drops all pending approvals. Used on scope changes.
func (t *Tracker) Reset() {
	t.byID = make(map[string]*Pending)
	t.order = nil
}

func (t *Tracker) remove(requestID string) bool {
	if _, ok := t.byID[requestID]; !ok {
		return false
	}
	delete(t.byID, requestID)
	for i, id := range t.order {
		if id == requestID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}
