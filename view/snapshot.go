package view

import (
	"sort"

	"goa.design/firehose/approval"
	"goa.design/firehose/event"
	"goa.design/firehose/transport"
)

// AllEvents returns the full ordered timeline for the scope, including one
// synthesized transient AGENT_STREAMING entry per thread still streaming.
// The slice is a snapshot; later deliveries do not affect it.
func (v *View) AllEvents() []*event.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mergedLocked()
}

// EventsForThread returns the timeline narrowed to one thread. User messages
// and system-level events are always included regardless of thread, matching
// what a conversation pane presents.
func (v *View) EventsForThread(threadID string) []*event.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	merged := v.mergedLocked()
	out := merged[:0]
	for _, e := range merged {
		if e.ThreadID == threadID ||
			e.Type == event.TypeUserMessage ||
			e.Type == event.TypeSystemMessage {
			out = append(out, e)
		}
	}
	return out
}

// mergedLocked merges the ordered log with the synthesized in-progress
// entries, preserving timestamp order. Callers hold v.mu.
func (v *View) mergedLocked() []*event.Event {
	events := v.log.Events()
	streaming := v.tokens.Flush()
	if len(streaming) == 0 {
		return events
	}
	events = append(events, streaming...)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// LoadingHistory reports whether the history fetch for the current scope is
// still in flight.
func (v *View) LoadingHistory() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadingHistory
}

// Connected reports whether the underlying stream connection is open.
func (v *View) Connected() bool {
	return v.mux.Stats().IsConnected
}

// ConnectionStatus returns the underlying connection state snapshot.
func (v *View) ConnectionStatus() transport.Status {
	return v.mux.Status()
}

// PendingApprovals returns the approvals awaiting a decision, oldest first.
func (v *View) PendingApprovals() []*approval.Pending {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.approvals.List()
}

// AgentStates returns a copy of the known agent lifecycle states.
func (v *View) AgentStates() map[string]event.AgentState {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]event.AgentState, len(v.agents))
	for id, s := range v.agents {
		out[id] = s
	}
	return out
}

// Projects returns the latest project or session metadata event per project.
func (v *View) Projects() map[string]*event.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]*event.Event, len(v.projects))
	for id, e := range v.projects {
		out[id] = e
	}
	return out
}

// Tasks returns the known tasks in creation order with their latest status.
func (v *View) Tasks() []event.TaskPayload {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]event.TaskPayload, 0, len(v.taskOrder))
	for _, id := range v.taskOrder {
		out = append(out, v.tasks[id])
	}
	return out
}

// Usage returns the accumulated token usage for a thread.
func (v *View) Usage(threadID string) event.Usage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.usage[threadID]
}
