package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/model"
)

const (
	defaultAwaitSeconds = 60
	maxAwaitSeconds     = 600
)

// TeamTools exposes the orchestration tool set of one lead thread. Every
// handler returns model-readable text, including failures, so the lead can
// react to an error instead of aborting the turn.
type TeamTools struct {
	manager      *SubAgentManager
	bus          *TaskBus
	userID       int64
	leadThreadID int64

	// progress receives short status lines for the streaming surface.
	// Must not block; may be nil.
	progress func(msg string)
}

func NewTeamTools(manager *SubAgentManager, bus *TaskBus, userID, leadThreadID int64, progress func(msg string)) *TeamTools {
	return &TeamTools{
		manager:      manager,
		bus:          bus,
		userID:       userID,
		leadThreadID: leadThreadID,
		progress:     progress,
	}
}

func (t *TeamTools) notify(msg string) {
	if t != nil && t.progress != nil {
		t.progress(msg)
	}
}

// Tools returns the five orchestration tools bound to this lead thread.
func (t *TeamTools) Tools() []model.Tool {
	return []model.Tool{
		t.createSubAgentTool(),
		t.dispatchTaskTool(),
		t.awaitResultsTool(),
		t.destroySubAgentTool(),
		t.listTeamAgentsTool(),
	}
}

func (t *TeamTools) createSubAgentTool() model.Tool {
	return model.Tool{
		Name: "createSubAgent",
		Description: "Create a specialist sub-agent to work on part of the design. " +
			"Returns the sub-agent's numeric threadId. " +
			"IMPORTANT: You MUST use the exact numeric threadId returned (e.g. 2024214713863147522) " +
			"when calling dispatchTask or destroySubAgent.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agentType": map[string]any{
					"type":        "string",
					"description": "Archetype of the sub-agent, one of the types listed in available-agent-types.",
				},
				"task": map[string]any{
					"type":        "string",
					"description": "Short summary of what this sub-agent will work on.",
				},
				"extraPrompt": map[string]any{
					"type":        "string",
					"description": "Optional additional instructions appended to the archetype prompt.",
				},
				"extraTools": map[string]any{
					"type":        "string",
					"description": "Optional comma-separated extra tool names to grant.",
				},
			},
			"required": []string{"agentType", "task"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			info, err := t.manager.Create(ctx, t.userID, t.leadThreadID,
				stringArg(args, "agentType"),
				stringArg(args, "task"),
				stringArg(args, "extraPrompt"),
				stringArg(args, "extraTools"))
			if err != nil {
				return "Failed to create sub-agent: " + err.Error(), nil
			}
			t.notify(fmt.Sprintf("Created sub-agent %s (%s)", info.Name, info.Type))
			return fmt.Sprintf("Sub-agent created successfully:\n"+
				"- Name: %s\n"+
				"- threadId: %d  ← USE THIS EXACT NUMERIC ID for dispatchTask/destroySubAgent\n"+
				"- Type: %s\n"+
				"- Role: %s",
				info.Name, info.ThreadID, info.Type, info.Role), nil
		},
	}
}

func (t *TeamTools) dispatchTaskTool() model.Tool {
	return model.Tool{
		Name: "dispatchTask",
		Description: "Dispatch a task to a sub-agent. The sub-agent works in the background; " +
			"collect its output later with awaitResults. " +
			"IMPORTANT: threadId MUST be the exact numeric id returned by createSubAgent.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"threadId": map[string]any{
					"type":        "string",
					"description": "Numeric threadId of the sub-agent, as returned by createSubAgent.",
				},
				"task": map[string]any{
					"type":        "string",
					"description": "The task message to send to the sub-agent.",
				},
			},
			"required": []string{"threadId", "task"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			threadID, err := int64Arg(args, "threadId")
			if err != nil {
				return "Failed to dispatch task: " + err.Error(), nil
			}
			task := strings.TrimSpace(stringArg(args, "task"))
			if task == "" {
				return "Failed to dispatch task: empty task", nil
			}

			def, _, err := t.manager.resolveTeamAgent(ctx, t.userID, t.leadThreadID, threadID)
			if err != nil {
				return "Failed to dispatch task: " + err.Error(), nil
			}

			err = t.bus.Dispatch(threadID, def.Name, func(ctx context.Context) (string, error) {
				return t.manager.Chat(ctx, t.userID, t.leadThreadID, threadID, task)
			})
			if err != nil {
				return "Failed to dispatch task: " + err.Error(), nil
			}

			working := t.bus.PendingCount()
			t.notify(fmt.Sprintf("%d agent(s) working in background", working))
			return fmt.Sprintf("Task dispatched to %s (threadId: %d). %d agent(s) now working in background.",
				def.Name, threadID, working), nil
		},
	}
}

func (t *TeamTools) awaitResultsTool() model.Tool {
	return model.Tool{
		Name: "awaitResults",
		Description: "Collect finished sub-agent results. Returns immediately if results are " +
			"buffered; otherwise waits up to timeoutSeconds for the first one.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timeoutSeconds": map[string]any{
					"type":        "integer",
					"description": "How long to wait if no results are ready yet. Default 60.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			seconds := defaultAwaitSeconds
			if v, err := int64Arg(args, "timeoutSeconds"); err == nil && v > 0 {
				seconds = int(v)
			}
			if seconds > maxAwaitSeconds {
				seconds = maxAwaitSeconds
			}

			if pending := t.bus.PendingCount(); pending > 0 {
				t.notify(fmt.Sprintf("Waiting for %d agent(s)...", pending))
			}
			results := t.bus.AwaitResults(ctx, time.Duration(seconds)*time.Second)
			if err := ctx.Err(); err != nil {
				return "Error waiting for results: " + err.Error(), nil
			}

			if len(results) == 0 {
				pending := t.bus.PendingCount()
				if pending == 0 {
					return "No pending tasks and no results available.", nil
				}
				return fmt.Sprintf("Timeout after %d seconds. %d agent(s) still working.", seconds, pending), nil
			}

			names := make([]string, 0, len(results))
			for _, r := range results {
				names = append(names, r.AgentName)
			}
			t.notify(fmt.Sprintf("Received %d result(s) from %s", len(results), strings.Join(names, ", ")))

			var sb strings.Builder
			for _, r := range results {
				status := "completed"
				if r.IsError {
					status = "FAILED"
				}
				fmt.Fprintf(&sb, "=== Agent %s (threadId: %d) %s ===\n", r.AgentName, r.ThreadID, status)
				sb.WriteString(r.Result)
				sb.WriteString("\n\n")
			}
			if pending := t.bus.PendingCount(); pending > 0 {
				fmt.Fprintf(&sb, "[%d agent(s) still pending]", pending)
			} else {
				sb.WriteString("[All agents completed]")
			}
			return sb.String(), nil
		},
	}
}

func (t *TeamTools) destroySubAgentTool() model.Tool {
	return model.Tool{
		Name: "destroySubAgent",
		Description: "Destroy a sub-agent that is no longer needed. Cancels its running task if any. " +
			"IMPORTANT: threadId MUST be the exact numeric id returned by createSubAgent.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"threadId": map[string]any{
					"type":        "string",
					"description": "Numeric threadId of the sub-agent to destroy.",
				},
			},
			"required": []string{"threadId"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			threadID, err := int64Arg(args, "threadId")
			if err != nil {
				return "Failed to destroy sub-agent: " + err.Error(), nil
			}
			t.bus.Cancel(threadID)
			if err := t.manager.Destroy(ctx, t.userID, t.leadThreadID, threadID); err != nil {
				return "Failed to destroy sub-agent: " + err.Error(), nil
			}
			t.notify(fmt.Sprintf("Destroyed sub-agent (threadId: %d)", threadID))
			return fmt.Sprintf("Sub-agent (threadId: %d) destroyed successfully.", threadID), nil
		},
	}
}

func (t *TeamTools) listTeamAgentsTool() model.Tool {
	return model.Tool{
		Name:        "listTeamAgents",
		Description: "List the sub-agents in the current team with their threadIds and working status.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			infos, err := t.manager.List(ctx, t.userID, t.leadThreadID)
			if err != nil {
				return "Failed to list team agents: " + err.Error(), nil
			}
			if len(infos) == 0 {
				return "No sub-agents in team. Use createSubAgent to create specialists.", nil
			}

			working := 0
			var sb strings.Builder
			sb.WriteString("Team agents:\n")
			for _, info := range infos {
				status := "idle"
				if t.bus.IsWorking(info.ThreadID) {
					status = "working"
					working++
				}
				fmt.Fprintf(&sb, "- %s (threadId: %d, type: %s, status: %s)\n",
					info.Name, info.ThreadID, info.Type, status)
			}
			fmt.Fprintf(&sb, "\nTotal: %d agent(s), %d working, %d idle",
				len(infos), working, len(infos)-working)
			return sb.String(), nil
		},
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// int64Arg accepts both JSON numbers and strings. Large ids lose precision
// as float64, so models are told to pass them as strings.
func int64Arg(args map[string]any, key string) (int64, error) {
	if args == nil {
		return 0, fmt.Errorf("missing %s", key)
	}
	switch v := args[key].(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", key, v)
		}
		return n, nil
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", key, v.String())
		}
		return n, nil
	default:
		return 0, fmt.Errorf("missing %s", key)
	}
}
