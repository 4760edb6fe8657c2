// Package aggregate reconstructs higher-level semantic units out of
// low-level stream fragments: complete streamed messages from token events
// and paired call/result units from tool events. Both aggregators are owned
// by a single subscriber and are not safe for concurrent use.
package aggregate

import (
	"context"
	"time"

	"goa.design/firehose/event"
	"goa.design/firehose/telemetry"
)

// DefaultStreamingLimit bounds the number of threads with tracked
// in-progress messages. Beyond it the oldest-registered thread's state is
// dropped, a deliberate lossy degradation under pathological agent fan-out.
const DefaultStreamingLimit = 32

type (
	// StreamingAggregator accumulates token fragments per thread into one
	// growing in-progress message. Fragments concatenate in arrival order;
	// tokens for a single thread are produced sequentially by the server so
	// no reordering is attempted.
	StreamingAggregator struct {
		limit  int
		logger telemetry.Logger

		inProgress map[string]*inProgress
		order      []string // thread registration order, oldest first
	}

	inProgress struct {
		content string
		agentID string
		updated time.Time
	}
)

// NewStreamingAggregator returns an aggregator tracking at most limit
// concurrent threads. A non-positive limit selects DefaultStreamingLimit.
func NewStreamingAggregator(limit int, logger telemetry.Logger) *StreamingAggregator {
	if limit <= 0 {
		limit = DefaultStreamingLimit
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &StreamingAggregator{
		limit:      limit,
		logger:     logger,
		inProgress: make(map[string]*inProgress),
	}
}

// OnToken appends a fragment to the thread's in-progress message, creating
// the entry on the first token. The entry timestamp follows the latest
// fragment. When a new thread would exceed the limit, the oldest-registered
// thread is evicted, not flushed: its partial content is simply dropped.
func (a *StreamingAggregator) OnToken(ctx context.Context, threadID, agentID, token string, ts time.Time) {
	entry, ok := a.inProgress[threadID]
	if !ok {
		if len(a.order) >= a.limit {
			oldest := a.order[0]
			a.order = a.order[1:]
			delete(a.inProgress, oldest)
			a.logger.Warn(ctx, "in-progress message evicted", "thread", oldest, "limit", a.limit)
		}
		entry = &inProgress{agentID: agentID}
		a.inProgress[threadID] = entry
		a.order = append(a.order, threadID)
	}
	entry.content += token
	entry.updated = ts
	if agentID != "" {
		entry.agentID = agentID
	}
}

// OnFinalMessage drops the thread's in-progress entry. The authoritative
// AGENT_MESSAGE flows through to the timeline unmodified.
func (a *StreamingAggregator) OnFinalMessage(threadID string) {
	if _, ok := a.inProgress[threadID]; !ok {
		return
	}
	delete(a.inProgress, threadID)
	for i, id := range a.order {
		if id == threadID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Content returns the accumulated text for the thread, if any.
func (a *StreamingAggregator) Content(threadID string) (string, bool) {
	entry, ok := a.inProgress[threadID]
	if !ok {
		return "", false
	}
	return entry.content, true
}

// Len returns the number of threads currently tracked.
func (a *StreamingAggregator) Len() int { return len(a.order) }

// Flush synthesizes one transient AGENT_STREAMING event per in-progress
// thread, in registration order, so interim text is visible on the presented
// timeline before completion. The tracked state is left intact.
func (a *StreamingAggregator) Flush() []*event.Event {
	out := make([]*event.Event, 0, len(a.order))
	for _, threadID := range a.order {
		entry := a.inProgress[threadID]
		out = append(out, event.NewStreaming(threadID, entry.agentID, entry.content, entry.updated))
	}
	return out
}

// Reset drops all tracked state. Used on scope changes.
func (a *StreamingAggregator) Reset() {
	a.inProgress = make(map[string]*inProgress)
	a.order = nil
}
