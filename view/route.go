package view

import (
	"context"

	"goa.design/firehose/approval"
	"goa.design/firehose/event"
)

// routeLocked classifies one event and applies it to the view's state. It is
// the single entry point for both feeds: live delivery and the history
// merge. Duplicate composite keys are absorbed here, before aggregation, so
// a historical event that the live feed already delivered is a pure no-op.
// Callers hold v.mu.
func (v *View) routeLocked(ctx context.Context, e *event.Event) {
	key := e.Key()
	if _, dup := v.seen[key]; dup {
		return
	}
	v.seen[key] = struct{}{}

	category, known := event.Classify(e)
	if !known {
		// Forward compatibility: newer servers emit types this client does
		// not understand yet. Not an error.
		v.logger.Debug(ctx, "unknown event type ignored", "type", string(e.Type))
		return
	}

	switch category {
	case event.CategoryApprovalRequest:
		v.onApprovalRequest(ctx, e)
	case event.CategoryApprovalResponse:
		v.onApprovalResponse(ctx, e)
	case event.CategorySession:
		v.onSession(ctx, e)
	case event.CategoryTask:
		v.onTask(ctx, e)
	case event.CategoryAgent:
		v.onAgent(ctx, e)
	case event.CategoryProject:
		v.projects[e.ProjectID] = e
	case event.CategoryGlobal:
		v.log.Insert(e)
	}
}

func (v *View) onSession(ctx context.Context, e *event.Event) {
	switch e.Type {
	case event.TypeAgentToken:
		p, err := e.Token()
		if err != nil {
			v.dropMalformed(ctx, e, err)
			return
		}
		v.tokens.OnToken(ctx, e.ThreadID, p.AgentID, p.Content, e.Timestamp)

	case event.TypeAgentMessage:
		// The authoritative message supersedes the in-progress streamed one
		// and flows to the timeline unmodified.
		v.tokens.OnFinalMessage(e.ThreadID)
		v.log.Insert(e)
		if p, err := e.Message(); err == nil && p.Usage != nil {
			v.addUsage(e.ThreadID, *p.Usage)
		}

	case event.TypeUserMessage:
		v.log.Insert(e)

	case event.TypeToolCall:
		p, err := e.ToolCall()
		if err != nil {
			v.dropMalformed(ctx, e, err)
			return
		}
		// The raw call never appears on the timeline; its aggregated unit
		// does, gaining a result when one is matched.
		v.log.Insert(v.tools.OnCall(e, p))

	case event.TypeToolResult:
		p, err := e.ToolResult()
		if err != nil {
			v.dropMalformed(ctx, e, err)
			return
		}
		stale, agg, ok := v.tools.OnResult(ctx, e, p)
		if !ok {
			return
		}
		v.log.Remove(stale)
		v.log.Insert(agg)
	}
}

func (v *View) onTask(ctx context.Context, e *event.Event) {
	p, err := e.Task()
	if err != nil {
		v.dropMalformed(ctx, e, err)
		return
	}
	if _, known := v.tasks[p.TaskID]; !known {
		v.taskOrder = append(v.taskOrder, p.TaskID)
	}
	if e.Type == event.TypeTaskCompleted && p.Status == "" {
		p.Status = "completed"
	}
	v.tasks[p.TaskID] = p
	v.log.Insert(e)
}

func (v *View) onAgent(ctx context.Context, e *event.Event) {
	switch e.Type {
	case event.TypeAgentJoined:
		p, err := e.Agent()
		if err != nil {
			v.dropMalformed(ctx, e, err)
			return
		}
		v.agents[p.AgentID] = event.StateIdle

	case event.TypeAgentLeft:
		p, err := e.Agent()
		if err != nil {
			v.dropMalformed(ctx, e, err)
			return
		}
		delete(v.agents, p.AgentID)

	case event.TypeAgentStateChange:
		p, err := e.StateChange()
		if err != nil {
			v.dropMalformed(ctx, e, err)
			return
		}
		// A malformed transition must never crash the UI: validate the
		// target state and the agent reference, log, and move on.
		if !event.ValidAgentState(p.To) {
			v.logger.Warn(ctx, "invalid agent state ignored", "agent", p.AgentID, "to", string(p.To))
			return
		}
		if _, known := v.agents[p.AgentID]; !known {
			v.logger.Warn(ctx, "state change for unknown agent ignored", "agent", p.AgentID)
			return
		}
		v.agents[p.AgentID] = p.To
	}
}

func (v *View) onApprovalRequest(ctx context.Context, e *event.Event) {
	p, err := e.ApprovalRequest()
	if err != nil {
		v.dropMalformed(ctx, e, err)
		return
	}
	v.approvals.OnRequest(approval.Pending{
		RequestID:   p.RequestID,
		AgentID:     p.AgentID,
		ToolName:    p.ToolName,
		Arguments:   p.Arguments,
		RequestedAt: e.Timestamp,
		Raw:         e,
	})
}

func (v *View) onApprovalResponse(ctx context.Context, e *event.Event) {
	p, err := e.ApprovalResponse()
	if err != nil {
		v.dropMalformed(ctx, e, err)
		return
	}
	v.approvals.OnResponse(p.RequestID)
}

func (v *View) dropMalformed(ctx context.Context, e *event.Event, err error) {
	v.logger.Warn(ctx, "malformed payload dropped", "type", string(e.Type), "error", err.Error())
}

func (v *View) addUsage(threadID string, u event.Usage) {
	total := v.usage[threadID]
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	v.usage[threadID] = total
}
