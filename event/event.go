// Package event defines the wire envelope delivered by the collaboration
// backend, the closed event type taxonomy, the composite identity key used
// for deduplication, and the boundary codec that validates and decodes raw
// frames exactly once so downstream components consume typed values.
package event

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Type tags the payload carried by an envelope. The set is closed: frames
// carrying a tag outside this set are ignored by the classifier so newer
// servers do not break older clients.
type Type string

const (
	// TypeUserMessage is a message authored by the human user.
	TypeUserMessage Type = "USER_MESSAGE"
	// TypeAgentMessage is a complete, authoritative agent message. It
	// supersedes any in-progress streamed content for the same thread.
	TypeAgentMessage Type = "AGENT_MESSAGE"
	// TypeAgentToken is an incremental streamed token fragment.
	TypeAgentToken Type = "AGENT_TOKEN"
	// TypeSystemMessage is an operator or platform notice shown on every
	// thread regardless of the selected thread filter.
	TypeSystemMessage Type = "SYSTEM_MESSAGE"
	// TypeToolCall is an agent tool invocation.
	TypeToolCall Type = "TOOL_CALL"
	// TypeToolResult is the outcome of a prior tool invocation.
	TypeToolResult Type = "TOOL_RESULT"
	// TypeToolApprovalRequest asks a human or supervising agent to approve
	// a tool invocation. Never part of the timeline.
	TypeToolApprovalRequest Type = "TOOL_APPROVAL_REQUEST"
	// TypeToolApprovalResponse resolves a prior approval request. Never
	// part of the timeline.
	TypeToolApprovalResponse Type = "TOOL_APPROVAL_RESPONSE"
	// TypeAgentStateChange reports an agent moving between lifecycle states.
	TypeAgentStateChange Type = "AGENT_STATE_CHANGE"
	// TypeAgentJoined reports an agent entering the session.
	TypeAgentJoined Type = "AGENT_JOINED"
	// TypeAgentLeft reports an agent leaving the session.
	TypeAgentLeft Type = "AGENT_LEFT"
	// TypeTaskCreated reports a new task.
	TypeTaskCreated Type = "TASK_CREATED"
	// TypeTaskUpdated reports a task status or detail change.
	TypeTaskUpdated Type = "TASK_UPDATED"
	// TypeTaskCompleted reports a finished task.
	TypeTaskCompleted Type = "TASK_COMPLETED"
	// TypeProjectUpdated reports project-level metadata changes.
	TypeProjectUpdated Type = "PROJECT_UPDATED"
	// TypeSessionUpdated reports session-level metadata changes.
	TypeSessionUpdated Type = "SESSION_UPDATED"

	// TypeToolAggregated is synthesized client-side: one logical unit pairing
	// a tool call with its (possibly absent) result. It never arrives on the
	// wire.
	TypeToolAggregated Type = "TOOL_AGGREGATED"
	// TypeAgentStreaming is synthesized client-side for a message still being
	// streamed token by token. Always transient.
	TypeAgentStreaming Type = "AGENT_STREAMING"
)

// AgentState enumerates the closed agent lifecycle state set. State change
// events naming any other target state are rejected at the boundary.
type AgentState string

const (
	// StateIdle means the agent is waiting for input.
	StateIdle AgentState = "idle"
	// StateThinking means the agent is planning before producing output.
	StateThinking AgentState = "thinking"
	// StateStreaming means the agent is emitting message tokens.
	StateStreaming AgentState = "streaming"
	// StateToolExecution means the agent is running a tool.
	StateToolExecution AgentState = "tool_execution"
)

// ValidAgentState reports whether s belongs to the closed state set.
func ValidAgentState(s AgentState) bool {
	switch s {
	case StateIdle, StateThinking, StateStreaming, StateToolExecution:
		return true
	}
	return false
}

// Event is the atomic unit delivered by the live stream and the history
// fetch. There is no global sequence number: two events are the same event
// iff their composite key (type, timestamp, thread, data) compares equal.
type Event struct {
	// ID is unique within a scope. Absent on purely informational entries.
	ID string `json:"id,omitempty"`
	// Type tags the Data payload.
	Type Type `json:"type"`
	// ProjectID scopes the event to a project.
	ProjectID string `json:"projectId,omitempty"`
	// SessionID scopes the event to a session.
	SessionID string `json:"sessionId,omitempty"`
	// ThreadID is the logical conversation thread the event belongs to.
	ThreadID string `json:"threadId,omitempty"`
	// Timestamp is authoritative for ordering.
	Timestamp time.Time `json:"timestamp"`
	// Data is the type-specific payload, decoded lazily via the typed
	// accessors below.
	Data json.RawMessage `json:"data,omitempty"`
	// Transient marks events that must never be persisted into history,
	// e.g. a synthesized in-progress streaming message.
	Transient bool `json:"transient,omitempty"`
}

// Key returns the composite identity key. Events without a server-assigned
// sequence number dedupe on this key across the history/live boundary. The
// payload bytes are JSON-compacted so formatting differences between the two
// feeds do not defeat deduplication.
func (e *Event) Key() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.Timestamp.UnixNano(), 10))
	b.WriteByte('|')
	b.WriteString(e.ThreadID)
	b.WriteByte('|')
	b.Write(compactJSON(e.Data))
	return b.String()
}

// compactJSON strips insignificant whitespace. Invalid JSON is returned
// verbatim so a malformed payload still yields a stable key.
func compactJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
