package firehose

import "goa.design/firehose/event"

// Filter selects which events a subscriber receives. An event is delivered
// when its scope matches at least one populated dimension; a dimension left
// empty is unconstrained on that axis, and a filter with no populated
// dimension matches everything, Global or not.
type Filter struct {
	// ProjectIDs matches events scoped to any of the named projects.
	ProjectIDs []string
	// SessionIDs matches events scoped to any of the named sessions.
	SessionIDs []string
	// ThreadIDs matches events on any of the named threads.
	ThreadIDs []string
	// Global additionally matches system-level events, which carry no
	// project, session, or thread coordinates and so can never match an id
	// list. Mirrors the stream endpoint's global flag on the subscriber side.
	Global bool
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *event.Event) bool {
	if f.Global && e.ProjectID == "" && e.SessionID == "" && e.ThreadID == "" {
		return true
	}
	if len(f.ProjectIDs) == 0 && len(f.SessionIDs) == 0 && len(f.ThreadIDs) == 0 {
		return true
	}
	return contains(f.ProjectIDs, e.ProjectID) ||
		contains(f.SessionIDs, e.SessionID) ||
		contains(f.ThreadIDs, e.ThreadID)
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
