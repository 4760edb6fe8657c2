// Package timeline implements the ordering and deduplication layer shared by
// every consumer that presents a chronological view: a composite-key set for
// O(1) duplicate detection plus a timestamp-sorted slice maintained by
// reverse linear-scan insertion. The layout is optimized for near-monotonic
// arrival, the common case for a live stream; pathological reordering
// degrades to O(n) per insert, which is acceptable for bounded timelines.
package timeline

import (
	"goa.design/firehose/event"
)

// Log is an insertion-ordered, timestamp-sorted, deduplicated event
// sequence. It is built from two independent feeds (history batch and live
// stream): inserting a historical event the live feed already delivered is a
// no-op, not a duplicate.
//
// Log is not safe for concurrent use; each subscriber owns exactly one Log
// and serializes access to it.
type Log struct {
	seen   map[string]struct{}
	events []*event.Event
}

// New returns an empty log.
func New() *Log {
	return &Log{seen: make(map[string]struct{})}
}

// Insert adds e in timestamp order and reports whether it was new.
// Re-inserting an already-seen composite key mutates nothing and emits
// nothing.
func (l *Log) Insert(e *event.Event) bool {
	key := e.Key()
	if _, dup := l.seen[key]; dup {
		return false
	}
	l.seen[key] = struct{}{}

	// Scan backwards from the tail: live events almost always arrive in
	// timestamp order, so the common insert touches only the last slot.
	i := len(l.events)
	for i > 0 && l.events[i-1].Timestamp.After(e.Timestamp) {
		i--
	}
	l.events = append(l.events, nil)
	copy(l.events[i+1:], l.events[i:])
	l.events[i] = e
	return true
}

// Merge inserts every event in batch and returns how many were new. Batches
// from the history fetch interleave correctly with live events already
// present regardless of which feed resolved first.
func (l *Log) Merge(batch []*event.Event) int {
	added := 0
	for _, e := range batch {
		if l.Insert(e) {
			added++
		}
	}
	return added
}

// Remove deletes the event with the given composite key and reports whether
// it was present. Used when a synthesized entry is superseded, e.g. an
// aggregated tool unit replacing the bare call entry.
func (l *Log) Remove(key string) bool {
	if _, ok := l.seen[key]; !ok {
		return false
	}
	delete(l.seen, key)
	for i, e := range l.events {
		if e.Key() == key {
			l.events = append(l.events[:i], l.events[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether an event with the given composite key is present.
func (l *Log) Contains(key string) bool {
	_, ok := l.seen[key]
	return ok
}

// Len returns the number of events in the log.
func (l *Log) Len() int { return len(l.events) }

// Events returns a copy of the ordered sequence. Callers may retain and
// iterate the slice freely; subsequent inserts do not affect it.
func (l *Log) Events() []*event.Event {
	out := make([]*event.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Reset discards all entries and keys. Used when a scope change invalidates
// the current view.
func (l *Log) Reset() {
	l.seen = make(map[string]struct{})
	l.events = nil
}
