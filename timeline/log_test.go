package timeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/firehose/event"
)

func evt(typ event.Type, thread string, ts time.Time, content string) *event.Event {
	data, _ := json.Marshal(map[string]string{"content": content})
	return &event.Event{Type: typ, ThreadID: thread, Timestamp: ts, Data: data}
}

func TestInsertDedupIdempotence(t *testing.T) {
	l := New()
	ts := time.Now().UTC()
	a := evt(event.TypeUserMessage, "t1", ts, "hi")
	require.True(t, l.Insert(a))
	// Same composite key, distinct allocation.
	require.False(t, l.Insert(evt(event.TypeUserMessage, "t1", ts, "hi")))
	require.Equal(t, 1, l.Len())
}

func TestInsertKeepsTimestampOrder(t *testing.T) {
	l := New()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	// Arrival order deliberately scrambled.
	l.Insert(evt(event.TypeUserMessage, "t1", base.Add(2*time.Second), "c"))
	l.Insert(evt(event.TypeUserMessage, "t1", base, "a"))
	l.Insert(evt(event.TypeUserMessage, "t1", base.Add(3*time.Second), "d"))
	l.Insert(evt(event.TypeUserMessage, "t1", base.Add(time.Second), "b"))

	events := l.Events()
	require.Len(t, events, 4)
	for i := 1; i < len(events); i++ {
		require.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestMergeCountsOnlyNew(t *testing.T) {
	l := New()
	base := time.Now().UTC()
	live := []*event.Event{
		evt(event.TypeUserMessage, "t1", base, "a"),
		evt(event.TypeAgentMessage, "t1", base.Add(time.Second), "b"),
	}
	for _, e := range live {
		require.True(t, l.Insert(e))
	}

	// History overlaps live on one entry.
	history := []*event.Event{
		evt(event.TypeUserMessage, "t1", base, "a"),
		evt(event.TypeUserMessage, "t1", base.Add(-time.Minute), "earlier"),
	}
	require.Equal(t, 1, l.Merge(history))
	require.Equal(t, 3, l.Len())
	require.Equal(t, "earlier", content(t, l.Events()[0]))
}

func TestRemove(t *testing.T) {
	l := New()
	ts := time.Now().UTC()
	a := evt(event.TypeToolCall, "t1", ts, "x")
	l.Insert(a)
	require.True(t, l.Remove(a.Key()))
	require.False(t, l.Remove(a.Key()))
	require.Equal(t, 0, l.Len())
	// Removal frees the key for reinsertion.
	require.True(t, l.Insert(a))
}

func TestEventsSnapshotIsolation(t *testing.T) {
	l := New()
	ts := time.Now().UTC()
	l.Insert(evt(event.TypeUserMessage, "t1", ts, "a"))
	snap := l.Events()
	l.Insert(evt(event.TypeUserMessage, "t1", ts.Add(time.Second), "b"))
	require.Len(t, snap, 1)
}

func TestReset(t *testing.T) {
	l := New()
	ts := time.Now().UTC()
	a := evt(event.TypeUserMessage, "t1", ts, "a")
	l.Insert(a)
	l.Reset()
	require.Equal(t, 0, l.Len())
	require.True(t, l.Insert(a))
}

func content(t *testing.T, e *event.Event) string {
	t.Helper()
	var p struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(e.Data, &p))
	return p.Content
}
