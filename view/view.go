// Package view exposes the consumer-facing surface of the sync engine: a
// single, race-free, chronologically ordered timeline per selected scope,
// plus the ephemeral state that never joins the timeline (pending approvals,
// in-flight streaming text, agent status, task status).
//
// A View owns its ordered log, aggregators, and trackers exclusively; the
// multiplexer it subscribes to never inspects them, and no other subscriber
// can mutate them. All processing is callback-driven off the multiplexer's
// read goroutine; a mutex serializes it against snapshot reads and scope
// changes, so the only hazard is interleaving of asynchronous fetches, which
// the fetch-generation token absorbs.
package view

import (
	"context"
	"errors"
	"sync"

	"goa.design/firehose/aggregate"
	"goa.design/firehose/approval"
	"goa.design/firehose/event"
	"goa.design/firehose/firehose"
	"goa.design/firehose/history"
	"goa.design/firehose/telemetry"
	"goa.design/firehose/timeline"
	"goa.design/firehose/transport"
)

type (
	// Scope identifies the logical conversation the view presents.
	Scope struct {
		// ProjectID narrows to one project. Optional.
		ProjectID string
		// SessionID selects the session. Required for history fetches.
		SessionID string
		// ThreadID optionally narrows the default thread filter. The full
		// session timeline remains available through AllEvents.
		ThreadID string
	}

	// Option customizes a View.
	Option func(*View)

	// View is the per-scope consumer surface.
	View struct {
		mux     *firehose.Manager
		hist    *history.Client
		logger  telemetry.Logger
		metrics telemetry.Metrics

		streamingLimit int

		mu         sync.Mutex
		scope      Scope
		hasScope   bool
		generation int
		cancel     context.CancelFunc
		subID      string
		closed     bool

		seen      map[string]struct{}
		log       *timeline.Log
		tokens    *aggregate.StreamingAggregator
		tools     *aggregate.ToolPairer
		approvals *approval.Tracker
		agents    map[string]event.AgentState
		tasks     map[string]event.TaskPayload
		taskOrder []string
		usage     map[string]event.Usage
		projects  map[string]*event.Event

		loadingHistory bool
	}
)

// WithStreamingLimit bounds the number of concurrently tracked in-progress
// messages.
func WithStreamingLimit(limit int) Option {
	return func(v *View) { v.streamingLimit = limit }
}

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(v *View) { v.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(v *View) { v.metrics = m }
}

// New constructs a View over a multiplexer and API client. The view is empty
// until SetScope selects a conversation.
func New(mux *firehose.Manager, hist *history.Client, opts ...Option) *View {
	v := &View{
		mux:     mux,
		hist:    hist,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.resetLocked()
	return v
}

// SetScope switches the view to a new conversation scope. Any in-flight
// fetch for the previous scope is canceled and its eventual resolution is
// discarded by generation token, so a slow response can never overwrite
// state belonging to the new scope. Setting the current scope again is a
// no-op.
func (v *View) SetScope(ctx context.Context, scope Scope) {
	v.mu.Lock()
	if v.closed || (v.hasScope && scope == v.scope) {
		v.mu.Unlock()
		return
	}
	v.generation++
	gen := v.generation
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	oldSub := v.subID
	v.scope = scope
	v.hasScope = true
	v.resetLocked()
	v.loadingHistory = true
	v.mu.Unlock()

	// Filter changes are unsubscribe-old + subscribe-new, never in-place
	// mutation, so a handler is always paired with exactly one filter.
	if oldSub != "" {
		v.mux.Unsubscribe(oldSub)
	}
	subID := v.mux.Subscribe(ctx, scopeFilter(scope), v.handle)
	v.mux.SetScope(ctx, scopeTransport(scope))

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	v.mu.Lock()
	if gen != v.generation {
		// A newer SetScope raced us; yield to it.
		v.mu.Unlock()
		cancel()
		v.mux.Unsubscribe(subID)
		return
	}
	v.subID = subID
	v.cancel = cancel
	v.mu.Unlock()

	go v.loadHistory(fetchCtx, gen)
	go v.loadApprovals(fetchCtx, gen)
}

// ClearApproval dismisses a pending approval and reports whether it was
// tracked.
func (v *View) ClearApproval(requestID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.approvals.Clear(requestID)
}

// Reconnect resets the reconnect budget on the underlying connection and
// dials again.
func (v *View) Reconnect(ctx context.Context) {
	v.mux.Reconnect(ctx)
}

// Close cancels in-flight fetches and removes the view's subscription. The
// multiplexer (and its connection) is shared and stays up. Idempotent.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.generation++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	subID := v.subID
	v.subID = ""
	v.mu.Unlock()

	if subID != "" {
		v.mux.Unsubscribe(subID)
	}
}

// loadHistory fetches the bounded historical batch and merges it with
// whatever live events already arrived. Only the generation that issued the
// fetch may apply its result; cancellation is an expected outcome of scope
// switching and is never logged as an error.
func (v *View) loadHistory(ctx context.Context, gen int) {
	batch, err := v.hist.Events(ctx, v.scopeSessionID(gen), v.scopeThreadID(gen))

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return
	}
	v.loadingHistory = false
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Recoverable: no history, but live events keep flowing. The dedup
		// set and aggregators reset with the log so a dropped event can
		// rejoin the timeline if the stream replays it.
		v.resetTimelineLocked()
		v.logger.Error(ctx, "history fetch failed", "session", v.scope.SessionID, "error", err.Error())
		return
	}
	for _, e := range batch {
		// Internal workflow noise never reaches the timeline, and transient
		// entries must never have been persisted in the first place.
		if e.Transient || e.Type == event.TypeToolApprovalRequest || e.Type == event.TypeToolApprovalResponse {
			continue
		}
		v.routeLocked(ctx, e)
	}
}

// loadApprovals fetches the approvals still pending for the scope.
func (v *View) loadApprovals(ctx context.Context, gen int) {
	pending, err := v.hist.PendingApprovals(ctx, v.scopeSessionID(gen))

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		v.approvals.Reset()
		v.logger.Error(ctx, "approvals fetch failed", "session", v.scope.SessionID, "error", err.Error())
		return
	}
	for _, p := range pending {
		v.approvals.OnRequest(p)
	}
}

// handle is the multiplexer delivery callback.
func (v *View) handle(ctx context.Context, e *event.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.routeLocked(ctx, e)
}

func (v *View) scopeSessionID(gen int) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return ""
	}
	return v.scope.SessionID
}

func (v *View) scopeThreadID(gen int) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return ""
	}
	return v.scope.ThreadID
}

func (v *View) resetLocked() {
	v.tokens = aggregate.NewStreamingAggregator(v.streamingLimit, v.logger)
	v.tools = aggregate.NewToolPairer(v.logger)
	v.approvals = approval.NewTracker()
	v.resetTimelineLocked()
	v.loadingHistory = false
}

// resetTimelineLocked drops all event-derived state as a unit: the log, the
// dedup set that gates it, and the aggregators and registries fed by the same
// events. The approval tracker is kept; it is seeded by its own fetch.
// Callers hold v.mu.
func (v *View) resetTimelineLocked() {
	v.seen = make(map[string]struct{})
	v.log = timeline.New()
	v.tokens.Reset()
	v.tools.Reset()
	v.agents = make(map[string]event.AgentState)
	v.tasks = make(map[string]event.TaskPayload)
	v.taskOrder = nil
	v.usage = make(map[string]event.Usage)
	v.projects = make(map[string]*event.Event)
}

func scopeFilter(s Scope) firehose.Filter {
	f := firehose.Filter{Global: true}
	if s.ProjectID != "" {
		f.ProjectIDs = []string{s.ProjectID}
	}
	if s.SessionID != "" {
		f.SessionIDs = []string{s.SessionID}
	}
	if s.ThreadID != "" {
		f.ThreadIDs = []string{s.ThreadID}
	}
	return f
}

func scopeTransport(s Scope) transport.Scope {
	t := transport.Scope{Global: true}
	if s.ProjectID != "" {
		t.ProjectIDs = []string{s.ProjectID}
	}
	if s.SessionID != "" {
		t.SessionIDs = []string{s.SessionID}
	}
	if s.ThreadID != "" {
		t.ThreadIDs = []string{s.ThreadID}
	}
	return t
}
