package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/firehose/event"
)

func TestTokensConcatenateInArrivalOrder(t *testing.T) {
	a := NewStreamingAggregator(0, nil)
	ctx := context.Background()
	base := time.Now().UTC()

	a.OnToken(ctx, "t1", "agent1", "Hel", base)
	a.OnToken(ctx, "t1", "agent1", "lo ", base.Add(10*time.Millisecond))
	a.OnToken(ctx, "t1", "agent1", "world", base.Add(20*time.Millisecond))

	content, ok := a.Content("t1")
	require.True(t, ok)
	require.Equal(t, "Hello world", content)
}

func TestFinalMessageDropsInProgress(t *testing.T) {
	a := NewStreamingAggregator(0, nil)
	ctx := context.Background()
	a.OnToken(ctx, "t1", "agent1", "partial", time.Now())
	require.Equal(t, 1, a.Len())

	a.OnFinalMessage("t1")
	require.Equal(t, 0, a.Len())
	_, ok := a.Content("t1")
	require.False(t, ok)

	// Removing again is a no-op.
	a.OnFinalMessage("t1")
	require.Equal(t, 0, a.Len())
}

func TestFlushSynthesizesTransientEvents(t *testing.T) {
	a := NewStreamingAggregator(0, nil)
	ctx := context.Background()
	ts := time.Now().UTC()
	a.OnToken(ctx, "t1", "agent1", "one", ts)
	a.OnToken(ctx, "t2", "agent2", "two", ts.Add(time.Second))

	flushed := a.Flush()
	require.Len(t, flushed, 2)
	for _, e := range flushed {
		require.True(t, e.Transient)
		require.Equal(t, event.TypeAgentStreaming, e.Type)
	}
	// Registration order, oldest first.
	require.Equal(t, "t1", flushed[0].ThreadID)
	require.Equal(t, "t2", flushed[1].ThreadID)

	var p event.StreamingPayload
	require.NoError(t, json.Unmarshal(flushed[0].Data, &p))
	require.Equal(t, "one", p.Content)

	// Flush leaves the tracked state intact.
	require.Equal(t, 2, a.Len())
}

func TestEvictionDropsOldestThread(t *testing.T) {
	a := NewStreamingAggregator(2, nil)
	ctx := context.Background()
	ts := time.Now().UTC()

	a.OnToken(ctx, "t1", "a", "one", ts)
	a.OnToken(ctx, "t2", "a", "two", ts)
	a.OnToken(ctx, "t3", "a", "three", ts)

	require.Equal(t, 2, a.Len())
	_, ok := a.Content("t1")
	require.False(t, ok, "oldest-registered thread must be evicted")
	_, ok = a.Content("t3")
	require.True(t, ok)

	// Eviction drops, never flushes: no synthesized event for t1.
	for _, e := range a.Flush() {
		require.NotEqual(t, "t1", e.ThreadID)
	}
}

func TestEvictionFollowsRegistrationNotActivity(t *testing.T) {
	a := NewStreamingAggregator(2, nil)
	ctx := context.Background()
	ts := time.Now().UTC()

	a.OnToken(ctx, "t1", "a", "one", ts)
	a.OnToken(ctx, "t2", "a", "two", ts)
	// Fresh token on t1 does not rejuvenate it.
	a.OnToken(ctx, "t1", "a", " more", ts.Add(time.Second))
	a.OnToken(ctx, "t3", "a", "three", ts.Add(2*time.Second))

	_, ok := a.Content("t1")
	require.False(t, ok)
}

func TestManyThreadsStayBounded(t *testing.T) {
	a := NewStreamingAggregator(0, nil)
	ctx := context.Background()
	ts := time.Now().UTC()
	for i := 0; i < 10*DefaultStreamingLimit; i++ {
		a.OnToken(ctx, fmt.Sprintf("t%d", i), "a", "x", ts)
	}
	require.Equal(t, DefaultStreamingLimit, a.Len())
}
