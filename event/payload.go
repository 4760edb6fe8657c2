package event

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	// MessagePayload carries a complete user, agent, or system message.
	MessagePayload struct {
		// Content is the full message text.
		Content string `json:"content"`
		// AgentID identifies the authoring agent. Empty for user messages.
		AgentID string `json:"agentId,omitempty"`
		// Usage reports token accounting for the message, when the backend
		// provides it.
		Usage *Usage `json:"usage,omitempty"`
	}

	// Usage is the token accounting block optionally attached to agent
	// messages.
	Usage struct {
		PromptTokens     int `json:"promptTokens,omitempty"`
		CompletionTokens int `json:"completionTokens,omitempty"`
		TotalTokens      int `json:"totalTokens,omitempty"`
	}

	// TokenPayload carries one streamed token fragment.
	TokenPayload struct {
		// Content is the fragment text, concatenated in arrival order.
		Content string `json:"content"`
		// AgentID identifies the streaming agent.
		AgentID string `json:"agentId,omitempty"`
	}

	// ToolCallPayload carries an agent tool invocation.
	ToolCallPayload struct {
		// ToolCallID correlates the call with its eventual result. May be
		// empty when the upstream system does not assign correlation ids.
		ToolCallID string `json:"toolCallId,omitempty"`
		// ToolName is the invoked tool identifier.
		ToolName string `json:"toolName"`
		// Arguments is the marshaled tool input.
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}

	// ToolResultPayload carries the outcome of a tool invocation.
	ToolResultPayload struct {
		// ToolCallID correlates the result with its call. May be empty.
		ToolCallID string `json:"toolCallId,omitempty"`
		// ToolName names the tool that produced the result.
		ToolName string `json:"toolName,omitempty"`
		// Result is the marshaled tool output. Nil when the call failed.
		Result json.RawMessage `json:"result,omitempty"`
		// Error holds the failure message when the call failed.
		Error string `json:"error,omitempty"`
	}

	// ApprovalRequestPayload asks for a decision on a pending tool call.
	ApprovalRequestPayload struct {
		// RequestID keys the pending approval until its response arrives.
		RequestID string `json:"requestId"`
		// AgentID identifies the requesting agent.
		AgentID string `json:"agentId,omitempty"`
		// ToolName is the tool awaiting approval.
		ToolName string `json:"toolName"`
		// Arguments is the marshaled tool input under review.
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}

	// ApprovalResponsePayload resolves a prior approval request.
	ApprovalResponsePayload struct {
		// RequestID names the request being resolved.
		RequestID string `json:"requestId"`
		// Approved reports the decision.
		Approved bool `json:"approved"`
		// DecidedBy identifies the approver, when known.
		DecidedBy string `json:"decidedBy,omitempty"`
	}

	// StateChangePayload reports an agent lifecycle transition.
	StateChangePayload struct {
		// AgentID must reference an agent already known to the client.
		AgentID string `json:"agentId"`
		// From is the previous state as reported by the server.
		From AgentState `json:"from,omitempty"`
		// To must be a member of the closed agent state set.
		To AgentState `json:"to"`
	}

	// AgentPayload carries agent join/leave metadata.
	AgentPayload struct {
		AgentID string `json:"agentId"`
		Name    string `json:"name,omitempty"`
	}

	// TaskPayload carries task lifecycle metadata.
	TaskPayload struct {
		TaskID string `json:"taskId"`
		Title  string `json:"title,omitempty"`
		Status string `json:"status,omitempty"`
	}

	// StreamingPayload is the payload of a synthesized AGENT_STREAMING event.
	StreamingPayload struct {
		// Content is the text accumulated so far.
		Content string `json:"content"`
		AgentID string `json:"agentId,omitempty"`
	}

	// AggregatedToolPayload is the payload of a synthesized TOOL_AGGREGATED
	// event: one logical unit pairing a call with its result.
	AggregatedToolPayload struct {
		// ToolCallID is the explicit correlation id, or the synthesized key
		// assigned when the upstream system omitted one.
		ToolCallID string `json:"toolCallId,omitempty"`
		// ToolName names the invoked tool.
		ToolName string `json:"toolName"`
		// Arguments is the call input.
		Arguments json.RawMessage `json:"arguments,omitempty"`
		// Call is the originating TOOL_CALL event.
		Call *Event `json:"call"`
		// Result is the paired TOOL_RESULT event. Nil when no result arrived
		// before the call was flushed.
		Result *Event `json:"result,omitempty"`
	}
)

// Message decodes the payload of a message-bearing event.
func (e *Event) Message() (MessagePayload, error) {
	var p MessagePayload
	return p, e.decode(&p)
}

// Token decodes the payload of an AGENT_TOKEN event.
func (e *Event) Token() (TokenPayload, error) {
	var p TokenPayload
	return p, e.decode(&p)
}

// ToolCall decodes the payload of a TOOL_CALL event.
func (e *Event) ToolCall() (ToolCallPayload, error) {
	var p ToolCallPayload
	return p, e.decode(&p)
}

// ToolResult decodes the payload of a TOOL_RESULT event.
func (e *Event) ToolResult() (ToolResultPayload, error) {
	var p ToolResultPayload
	return p, e.decode(&p)
}

// ApprovalRequest decodes the payload of a TOOL_APPROVAL_REQUEST event.
func (e *Event) ApprovalRequest() (ApprovalRequestPayload, error) {
	var p ApprovalRequestPayload
	return p, e.decode(&p)
}

// ApprovalResponse decodes the payload of a TOOL_APPROVAL_RESPONSE event.
func (e *Event) ApprovalResponse() (ApprovalResponsePayload, error) {
	var p ApprovalResponsePayload
	return p, e.decode(&p)
}

// StateChange decodes the payload of an AGENT_STATE_CHANGE event.
func (e *Event) StateChange() (StateChangePayload, error) {
	var p StateChangePayload
	return p, e.decode(&p)
}

// Agent decodes the payload of an AGENT_JOINED or AGENT_LEFT event.
func (e *Event) Agent() (AgentPayload, error) {
	var p AgentPayload
	return p, e.decode(&p)
}

// Task decodes the payload of a TASK_* event.
func (e *Event) Task() (TaskPayload, error) {
	var p TaskPayload
	return p, e.decode(&p)
}

// AggregatedTool decodes the payload of a synthesized TOOL_AGGREGATED event.
func (e *Event) AggregatedTool() (AggregatedToolPayload, error) {
	var p AggregatedToolPayload
	return p, e.decode(&p)
}

func (e *Event) decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// NewStreaming synthesizes the transient in-progress message event presented
// while a thread is still streaming.
func NewStreaming(threadID, agentID, content string, ts time.Time) *Event {
	data, _ := json.Marshal(StreamingPayload{Content: content, AgentID: agentID})
	return &Event{
		Type:      TypeAgentStreaming,
		ThreadID:  threadID,
		Timestamp: ts,
		Data:      data,
		Transient: true,
	}
}

// NewAggregatedTool synthesizes the composite event pairing a tool call with
// its result. The event inherits the call's thread and timestamp so it sits
// where the call sat on the timeline; result is nil for unmatched calls.
func NewAggregatedTool(call *Event, result *Event, toolCallID, toolName string, args json.RawMessage) *Event {
	data, _ := json.Marshal(AggregatedToolPayload{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Arguments:  args,
		Call:       call,
		Result:     result,
	})
	return &Event{
		ID:        call.ID,
		Type:      TypeToolAggregated,
		ProjectID: call.ProjectID,
		SessionID: call.SessionID,
		ThreadID:  call.ThreadID,
		Timestamp: call.Timestamp,
		Data:      data,
	}
}
