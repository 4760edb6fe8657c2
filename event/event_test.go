package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyEquality(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	a := &Event{Type: TypeUserMessage, ThreadID: "t1", Timestamp: ts, Data: json.RawMessage(`{"content":"hi"}`)}
	b := &Event{Type: TypeUserMessage, ThreadID: "t1", Timestamp: ts, Data: json.RawMessage(`{"content":"hi"}`)}
	require.Equal(t, a.Key(), b.Key())
}

func TestKeyIgnoresPayloadWhitespace(t *testing.T) {
	// History and live feeds may serialize the same payload differently;
	// the composite key must not care.
	ts := time.Now().UTC()
	a := &Event{Type: TypeAgentMessage, ThreadID: "t1", Timestamp: ts, Data: json.RawMessage(`{"content":"hi"}`)}
	b := &Event{Type: TypeAgentMessage, ThreadID: "t1", Timestamp: ts, Data: json.RawMessage("{\n  \"content\": \"hi\"\n}")}
	require.Equal(t, a.Key(), b.Key())
}

func TestKeyDistinguishesComponents(t *testing.T) {
	ts := time.Now().UTC()
	base := &Event{Type: TypeUserMessage, ThreadID: "t1", Timestamp: ts, Data: json.RawMessage(`{"content":"hi"}`)}

	otherType := *base
	otherType.Type = TypeAgentMessage
	require.NotEqual(t, base.Key(), otherType.Key())

	otherThread := *base
	otherThread.ThreadID = "t2"
	require.NotEqual(t, base.Key(), otherThread.Key())

	otherTime := *base
	otherTime.Timestamp = ts.Add(time.Millisecond)
	require.NotEqual(t, base.Key(), otherTime.Key())

	otherData := *base
	otherData.Data = json.RawMessage(`{"content":"bye"}`)
	require.NotEqual(t, base.Key(), otherData.Key())
}

func TestKeyIgnoresID(t *testing.T) {
	// The id is not part of the identity contract: informational entries
	// may omit it entirely.
	ts := time.Now().UTC()
	a := &Event{ID: "e1", Type: TypeUserMessage, ThreadID: "t1", Timestamp: ts}
	b := &Event{Type: TypeUserMessage, ThreadID: "t1", Timestamp: ts}
	require.Equal(t, a.Key(), b.Key())
}

func TestValidAgentState(t *testing.T) {
	for _, s := range []AgentState{StateIdle, StateThinking, StateStreaming, StateToolExecution} {
		require.True(t, ValidAgentState(s), string(s))
	}
	require.False(t, ValidAgentState("sleeping"))
	require.False(t, ValidAgentState(""))
}

func TestNewStreamingIsTransient(t *testing.T) {
	ev := NewStreaming("t1", "a1", "partial", time.Now())
	require.True(t, ev.Transient)
	require.Equal(t, TypeAgentStreaming, ev.Type)
	var p StreamingPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.Equal(t, "partial", p.Content)
	require.Equal(t, "a1", p.AgentID)
}

func TestNewAggregatedToolInheritsCallCoordinates(t *testing.T) {
	ts := time.Now().UTC()
	call := &Event{
		ID: "e9", Type: TypeToolCall, ProjectID: "p1", SessionID: "s1",
		ThreadID: "t1", Timestamp: ts, Data: json.RawMessage(`{"toolName":"search"}`),
	}
	agg := NewAggregatedTool(call, nil, "call-1", "search", nil)
	require.Equal(t, TypeToolAggregated, agg.Type)
	require.Equal(t, "t1", agg.ThreadID)
	require.Equal(t, "s1", agg.SessionID)
	require.Equal(t, ts, agg.Timestamp)

	p, err := agg.AggregatedTool()
	require.NoError(t, err)
	require.Equal(t, "search", p.ToolName)
	require.NotNil(t, p.Call)
	require.Nil(t, p.Result)
}
