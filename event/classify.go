package event

// Category names the handler an event is routed to. Approval traffic is
// intercepted before generic session routing so it can never reach the
// timeline; events whose type matches no category are silently dropped,
// which keeps older clients alive when newer servers add event types.
type Category string

const (
	// CategorySession routes to the timeline (messages, tokens, tool traffic).
	CategorySession Category = "session"
	// CategoryTask routes to the task registry.
	CategoryTask Category = "task"
	// CategoryAgent routes to the agent lifecycle handler.
	CategoryAgent Category = "agent"
	// CategoryProject routes to the project handler.
	CategoryProject Category = "project"
	// CategoryGlobal routes to the global/system handler.
	CategoryGlobal Category = "global"
	// CategoryApprovalRequest routes to the approval tracker.
	CategoryApprovalRequest Category = "approval_request"
	// CategoryApprovalResponse routes to the approval tracker.
	CategoryApprovalResponse Category = "approval_response"
)

// categories is the fixed type-to-category table. Synthesized types
// (TOOL_AGGREGATED, AGENT_STREAMING) are deliberately absent: they are
// produced downstream of classification and never arrive on the wire.
var categories = map[Type]Category{
	TypeToolApprovalRequest:  CategoryApprovalRequest,
	TypeToolApprovalResponse: CategoryApprovalResponse,
	TypeUserMessage:          CategorySession,
	TypeAgentMessage:         CategorySession,
	TypeAgentToken:           CategorySession,
	TypeToolCall:             CategorySession,
	TypeToolResult:           CategorySession,
	TypeTaskCreated:          CategoryTask,
	TypeTaskUpdated:          CategoryTask,
	TypeTaskCompleted:        CategoryTask,
	TypeAgentStateChange:     CategoryAgent,
	TypeAgentJoined:          CategoryAgent,
	TypeAgentLeft:            CategoryAgent,
	TypeProjectUpdated:       CategoryProject,
	TypeSessionUpdated:       CategoryProject,
	TypeSystemMessage:        CategoryGlobal,
}

// Classify returns the handler category for the event's type. ok is false
// for unknown types, which callers must treat as "ignore", never as an
// error.
func Classify(e *Event) (Category, bool) {
	c, ok := categories[e.Type]
	return c, ok
}
