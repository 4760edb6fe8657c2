package aggregate

import (
	"context"
	"fmt"

	"goa.design/firehose/event"
	"goa.design/firehose/telemetry"
)

type (
	// ToolPairer aggregates a tool invocation and its eventual result into
	// one logical TOOL_AGGREGATED unit. Results match their call by explicit
	// correlation id when present; otherwise the oldest unmatched call on
	// the same thread wins (FIFO).
	//
	// The FIFO fallback is an accepted approximation, carried over from the
	// upstream protocol: when several unmatched calls coexist on one thread
	// and results arrive out of order without correlation ids, a late result
	// can pair with an earlier, unrelated call. Callers requiring correct
	// pairing must supply correlation ids.
	ToolPairer struct {
		logger telemetry.Logger

		calls    map[string]*pendingCall // by correlation key
		byThread map[string][]string     // unmatched call keys per thread, FIFO
		ordinals map[string]int          // per-thread counter for synthesized keys
	}

	pendingCall struct {
		key      string
		call     *event.Event
		payload  event.ToolCallPayload
		emitted  *event.Event // last TOOL_AGGREGATED synthesized for this call
		resolved bool
	}
)

// NewToolPairer returns an empty pairing engine.
func NewToolPairer(logger telemetry.Logger) *ToolPairer {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &ToolPairer{
		logger:   logger,
		calls:    make(map[string]*pendingCall),
		byThread: make(map[string][]string),
		ordinals: make(map[string]int),
	}
}

// OnCall registers a tool invocation and returns the TOOL_AGGREGATED unit to
// place on the timeline, with an absent result until one is matched. Calls
// without an explicit correlation id get a synthesized thread+timestamp+ordinal
// key so the unit is still individually addressable.
func (p *ToolPairer) OnCall(e *event.Event, payload event.ToolCallPayload) *event.Event {
	key := payload.ToolCallID
	if key == "" {
		ord := p.ordinals[e.ThreadID]
		p.ordinals[e.ThreadID] = ord + 1
		key = fmt.Sprintf("%s-%d-%d", e.ThreadID, e.Timestamp.UnixNano(), ord)
	}
	agg := event.NewAggregatedTool(e, nil, key, payload.ToolName, payload.Arguments)
	p.calls[key] = &pendingCall{key: key, call: e, payload: payload, emitted: agg}
	p.byThread[e.ThreadID] = append(p.byThread[e.ThreadID], key)
	return agg
}

// OnResult matches a tool result against its call. On a match it returns the
// composite key of the previously emitted aggregated unit, which the caller
// must remove from its timeline before inserting the returned replacement.
// Results that match nothing are orphans: logged and dropped, never fatal.
func (p *ToolPairer) OnResult(ctx context.Context, e *event.Event, payload event.ToolResultPayload) (stale string, agg *event.Event, ok bool) {
	var pc *pendingCall
	if payload.ToolCallID != "" {
		if c, found := p.calls[payload.ToolCallID]; found && !c.resolved {
			pc = c
		}
	}
	if pc == nil {
		// FIFO fallback: oldest unmatched call on the same thread.
		queue := p.byThread[e.ThreadID]
		if len(queue) > 0 {
			pc = p.calls[queue[0]]
		}
	}
	if pc == nil {
		p.logger.Warn(ctx, "orphan tool result dropped", "thread", e.ThreadID, "toolCallId", payload.ToolCallID)
		return "", nil, false
	}

	stale = pc.emitted.Key()
	agg = event.NewAggregatedTool(pc.call, e, pc.key, pc.payload.ToolName, pc.payload.Arguments)
	pc.emitted = agg
	pc.resolved = true
	p.unqueue(pc.call.ThreadID, pc.key)
	return stale, agg, true
}

// Pending returns the number of calls still awaiting a result.
func (p *ToolPairer) Pending() int {
	n := 0
	for _, keys := range p.byThread {
		n += len(keys)
	}
	return n
}

// Reset drops all pairing state. Used on scope changes.
func (p *ToolPairer) Reset() {
	p.calls = make(map[string]*pendingCall)
	p.byThread = make(map[string][]string)
	p.ordinals = make(map[string]int)
}

func (p *ToolPairer) unqueue(threadID, key string) {
	queue := p.byThread[threadID]
	for i, k := range queue {
		if k == key {
			p.byThread[threadID] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}
