// Package agent implements the multi-agent orchestration runtime: sub-agent
// lifecycle, background task dispatch, result collection and the resilient
// streaming pipeline that persists conversation turns.
package agent

import (
	"context"
	"errors"

	"github.com/BrotherOrange/PlayForge/internal/store"
)

const (
	// OrchestrationToolName grants an agent the team coordination tool set.
	// It is stripped from every sub-agent definition so delegation stays a
	// single level deep.
	OrchestrationToolName = store.OrchestrationToolName

	defaultMemoryWindow  = 40
	subAgentMemoryWindow = 20

	// subAgentMaxOutputTokens caps sub-agent completions when the parent
	// definition does not set its own limit.
	subAgentMaxOutputTokens = 24576
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrAgentNotFound  = errors.New("agent not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrThreadDeleted  = errors.New("thread deleted")
	ErrThreadInactive = errors.New("thread is not active")
)

// Repository is the persistence surface the runtime needs. *store.Store
// satisfies it.
type Repository interface {
	InsertAgent(ctx context.Context, d store.AgentDefinition) (int64, error)
	AgentByID(ctx context.Context, id int64) (*store.AgentDefinition, error)
	AgentsByParentThread(ctx context.Context, parentThreadID int64) ([]store.AgentDefinition, error)

	InsertThread(ctx context.Context, t store.Thread) (int64, error)
	ThreadByID(ctx context.Context, id int64) (*store.Thread, error)
	ThreadsByUserAndAgent(ctx context.Context, userID int64, agentID int64) ([]store.Thread, error)

	CreateSubAgent(ctx context.Context, d store.AgentDefinition, title string) (agentID int64, threadID int64, err error)
	ArchiveSubAgent(ctx context.Context, agentID int64, threadID int64) error
	MarkThreadDeleted(ctx context.Context, threadID int64) error

	InsertMessage(ctx context.Context, m store.Message) (int64, error)
	UpdateMessageContent(ctx context.Context, id int64, content string) error
	IncrementThreadMessageCount(ctx context.Context, threadID int64, delta int) error
	LatestMessages(ctx context.Context, threadID int64, limit int) ([]store.Message, error)
}

// SubAgentInfo is a team member summary for tool output and listings. Role
// is the human-readable archetype description.
type SubAgentInfo struct {
	AgentID  int64
	ThreadID int64
	Name     string
	Type     string
	Role     string
	Working  bool
}
