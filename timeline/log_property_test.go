package timeline

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/firehose/event"
)

var propBase = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// genEvents produces event batches with deliberately colliding timestamps,
// threads, and payloads so duplicates by composite key are common.
func genEvents() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 40)).Map(func(seeds []int) []*event.Event {
		events := make([]*event.Event, len(seeds))
		for i, seed := range seeds {
			data, _ := json.Marshal(map[string]string{"content": fmt.Sprintf("c%d", seed%5)})
			events[i] = &event.Event{
				Type:      event.TypeUserMessage,
				ThreadID:  fmt.Sprintf("t%d", seed%3),
				Timestamp: propBase.Add(time.Duration(seed) * time.Second),
				Data:      data,
			}
		}
		return events
	})
}

func uniqueKeys(events []*event.Event) int {
	keys := make(map[string]struct{})
	for _, e := range events {
		keys[e.Key()] = struct{}{}
	}
	return len(keys)
}

// TestOrderInvariantProperty verifies that for any sequence of events
// inserted in arbitrary arrival order, the resulting log is non-decreasing
// by timestamp.
func TestOrderInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("log is non-decreasing by timestamp", prop.ForAll(
		func(events []*event.Event) bool {
			l := New()
			for _, e := range events {
				l.Insert(e)
			}
			out := l.Events()
			for i := 1; i < len(out); i++ {
				if out[i].Timestamp.Before(out[i-1].Timestamp) {
					return false
				}
			}
			return true
		},
		genEvents(),
	))

	properties.TestingRun(t)
}

// TestDedupIdempotenceProperty verifies that re-inserting any event is a
// pure no-op: the log length always equals the number of distinct composite
// keys, no matter how many times each event arrives.
func TestDedupIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("log length equals distinct composite keys", prop.ForAll(
		func(events []*event.Event) bool {
			l := New()
			for _, e := range events {
				l.Insert(e)
			}
			for _, e := range events {
				if l.Insert(e) {
					return false // second insertion must never be "new"
				}
			}
			return l.Len() == uniqueKeys(events)
		},
		genEvents(),
	))

	properties.TestingRun(t)
}

// TestHistoryLiveMergeProperty verifies the history/live merge contract:
// given overlapping batches H and L, the merged log has exactly |H ∪ L|
// entries regardless of which feed arrived first.
func TestHistoryLiveMergeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("merged log has |H ∪ L| entries", prop.ForAll(
		func(history, live []*event.Event) bool {
			l := New()
			for _, e := range live {
				l.Insert(e)
			}
			l.Merge(history)
			return l.Len() == uniqueKeys(append(append([]*event.Event{}, history...), live...))
		},
		genEvents(),
		genEvents(),
	))

	properties.TestingRun(t)
}
