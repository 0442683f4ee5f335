package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/BrotherOrange/PlayForge/internal/model"
	"github.com/BrotherOrange/PlayForge/internal/store"
)

// SubAgentManager owns the lifecycle of sub-agents under a lead thread:
// creation from archetypes, synchronous chat turns, archival.
type SubAgentManager struct {
	repo       Repository
	archetypes *ArchetypeRegistry
	models     *model.Registry
	tools      *ToolRegistry
	retry      *RetryPolicy
	log        *slog.Logger
}

func NewSubAgentManager(repo Repository, archetypes *ArchetypeRegistry, models *model.Registry, tools *ToolRegistry, retry *RetryPolicy, log *slog.Logger) *SubAgentManager {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &SubAgentManager{
		repo:       repo,
		archetypes: archetypes,
		models:     models,
		tools:      tools,
		retry:      retry,
		log:        log,
	}
}

// Create instantiates a sub-agent of the given archetype under the lead
// thread. The orchestration tool is never inherited, so a sub-agent cannot
// build teams of its own.
func (m *SubAgentManager) Create(ctx context.Context, userID, parentThreadID int64, agentType, task, extraPrompt, extraTools string) (*SubAgentInfo, error) {
	if m == nil || m.repo == nil {
		return nil, errors.New("manager not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	agentType = strings.TrimSpace(agentType)
	task = strings.TrimSpace(task)

	arch, ok := m.archetypes.Lookup(agentType)
	if !ok || arch.Hidden {
		return nil, fmt.Errorf("invalid agent type: %s. Valid types: %s",
			agentType, strings.Join(m.archetypes.CreatableNames(), ", "))
	}

	parentDef, _, err := m.leadContext(ctx, userID, parentThreadID)
	if err != nil {
		return nil, err
	}

	prompt := arch.SystemPrompt
	if extra := strings.TrimSpace(extraPrompt); extra != "" {
		if prompt == "" {
			prompt = extra
		} else {
			prompt = prompt + "\n\n<additional-instructions>\n" + extra + "\n</additional-instructions>"
		}
	}

	toolNames := mergeToolNames(arch.DefaultTools, extraTools)

	name := agentType + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	agentID, threadID, err := m.repo.CreateSubAgent(ctx, store.AgentDefinition{
		UserID:         userID,
		Name:           name,
		DisplayName:    arch.Description,
		Description:    "Sub-agent for task: " + task,
		Provider:       parentDef.Provider,
		ModelName:      parentDef.ModelName,
		SystemPrompt:   prompt,
		ToolNames:      strings.Join(toolNames, ","),
		AgentType:      agentType,
		ParentThreadID: parentThreadID,
		MemoryWindow:   subAgentMemoryWindow,
		Temperature:    parentDef.Temperature,
		MaxTokens:      parentDef.MaxTokens,
	}, arch.Description)
	if err != nil {
		return nil, err
	}

	m.log.Info("sub-agent created",
		"name", name,
		"type", agentType,
		"threadId", threadID,
		"parentThreadId", parentThreadID)

	return &SubAgentInfo{
		AgentID:  agentID,
		ThreadID: threadID,
		Name:     name,
		Type:     agentType,
		Role:     arch.Description,
	}, nil
}

// Chat runs one synchronous turn on a sub-agent thread. The user message is
// persisted before the model call; a failed call leaves an "[Error] "
// assistant message so the transcript records the failure.
func (m *SubAgentManager) Chat(ctx context.Context, userID, parentThreadID, subThreadID int64, message string) (string, error) {
	if m == nil || m.repo == nil {
		return "", errors.New("manager not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("empty message")
	}

	def, thread, err := m.resolveTeamAgent(ctx, userID, parentThreadID, subThreadID)
	if err != nil {
		return "", err
	}

	if _, err := m.repo.InsertMessage(ctx, store.Message{ThreadID: thread.ID, Role: model.RoleUser, Content: message}); err != nil {
		return "", err
	}
	if err := m.repo.IncrementThreadMessageCount(ctx, thread.ID, 1); err != nil {
		return "", err
	}

	chat, err := m.models.Resolve(def.Provider)
	if err != nil {
		return "", m.persistFailure(ctx, thread.ID, err)
	}

	req, err := m.buildRequest(ctx, def, thread.ID)
	if err != nil {
		return "", err
	}

	var resp *model.Response
	callErr := m.retry.Do(ctx, func(ctx context.Context) error {
		r, err := chat.Chat(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if callErr != nil {
		return "", m.persistFailure(ctx, thread.ID, callErr)
	}

	if resp.Thinking != "" {
		if _, err := m.repo.InsertMessage(ctx, store.Message{
			ThreadID: thread.ID,
			Role:     model.RoleTool,
			ToolName: "thinking",
			Content:  resp.Thinking,
		}); err != nil {
			m.log.Warn("persist thinking failed", "threadId", thread.ID, "error", err)
		}
	}
	if _, err := m.repo.InsertMessage(ctx, store.Message{ThreadID: thread.ID, Role: model.RoleAssistant, Content: resp.Text}); err != nil {
		return "", err
	}
	if err := m.repo.IncrementThreadMessageCount(ctx, thread.ID, 1); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (m *SubAgentManager) persistFailure(ctx context.Context, threadID int64, cause error) error {
	if _, err := m.repo.InsertMessage(ctx, store.Message{
		ThreadID: threadID,
		Role:     model.RoleAssistant,
		Content:  "[Error] " + model.RootMessage(cause),
	}); err != nil {
		m.log.Warn("persist error message failed", "threadId", threadID, "error", err)
	} else if err := m.repo.IncrementThreadMessageCount(ctx, threadID, 1); err != nil {
		m.log.Warn("increment after error failed", "threadId", threadID, "error", err)
	}
	return cause
}

// Destroy archives a sub-agent's definition and thread.
func (m *SubAgentManager) Destroy(ctx context.Context, userID, parentThreadID, subThreadID int64) error {
	if m == nil || m.repo == nil {
		return errors.New("manager not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	def, thread, err := m.resolveTeamAgent(ctx, userID, parentThreadID, subThreadID)
	if err != nil {
		return err
	}
	if err := m.repo.ArchiveSubAgent(ctx, def.ID, thread.ID); err != nil {
		return err
	}
	m.log.Info("sub-agent destroyed", "name", def.Name, "threadId", thread.ID, "parentThreadId", parentThreadID)
	return nil
}

// List returns the active team members under a lead thread. Working flags
// are filled in by the caller from the task bus.
func (m *SubAgentManager) List(ctx context.Context, userID, parentThreadID int64) ([]SubAgentInfo, error) {
	if m == nil || m.repo == nil {
		return nil, errors.New("manager not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, _, err := m.leadContext(ctx, userID, parentThreadID); err != nil {
		return nil, err
	}

	defs, err := m.repo.AgentsByParentThread(ctx, parentThreadID)
	if err != nil {
		return nil, err
	}

	out := make([]SubAgentInfo, 0, len(defs))
	for _, def := range defs {
		if !def.IsActive || def.UserID != userID {
			continue
		}
		threads, err := m.repo.ThreadsByUserAndAgent(ctx, userID, def.ID)
		if err != nil {
			return nil, err
		}
		for _, th := range threads {
			if th.Status != store.ThreadActive || th.ParentThreadID != parentThreadID {
				continue
			}
			role := def.DisplayName
			out = append(out, SubAgentInfo{
				AgentID:  def.ID,
				ThreadID: th.ID,
				Name:     def.Name,
				Type:     def.AgentType,
				Role:     role,
			})
			break
		}
	}
	return out, nil
}

// DestroyAll archives every active sub-agent under the lead thread. Used by
// thread deletion cleanup.
func (m *SubAgentManager) DestroyAll(ctx context.Context, userID, parentThreadID int64) error {
	infos, err := m.List(ctx, userID, parentThreadID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, info := range infos {
		if err := m.repo.ArchiveSubAgent(ctx, info.AgentID, info.ThreadID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// leadContext validates that the lead thread exists, belongs to the user,
// is not deleted, and that its agent carries the orchestration capability.
func (m *SubAgentManager) leadContext(ctx context.Context, userID, parentThreadID int64) (*store.AgentDefinition, *store.Thread, error) {
	if userID <= 0 || parentThreadID <= 0 {
		return nil, nil, errors.New("invalid request")
	}
	thread, err := m.repo.ThreadByID(ctx, parentThreadID)
	if err != nil {
		return nil, nil, err
	}
	if thread == nil {
		return nil, nil, ErrThreadNotFound
	}
	if thread.UserID != userID {
		return nil, nil, ErrAccessDenied
	}
	if thread.Status == store.ThreadDeleted {
		return nil, nil, ErrThreadDeleted
	}
	def, err := m.repo.AgentByID(ctx, thread.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if def == nil {
		return nil, nil, ErrAgentNotFound
	}
	if !def.HasTool(OrchestrationToolName) {
		return nil, nil, errors.New("agent does not have the subAgentTool capability")
	}
	return def, thread, nil
}

// resolveTeamAgent validates that subThreadID names an active sub-agent of
// the given lead thread, owned by the same user.
func (m *SubAgentManager) resolveTeamAgent(ctx context.Context, userID, parentThreadID, subThreadID int64) (*store.AgentDefinition, *store.Thread, error) {
	if _, _, err := m.leadContext(ctx, userID, parentThreadID); err != nil {
		return nil, nil, err
	}
	if subThreadID <= 0 {
		return nil, nil, fmt.Errorf("Sub-agent thread not found in current team: %d", subThreadID)
	}

	thread, err := m.repo.ThreadByID(ctx, subThreadID)
	if err != nil {
		return nil, nil, err
	}
	if thread == nil || thread.ParentThreadID != parentThreadID {
		return nil, nil, fmt.Errorf("Sub-agent thread not found in current team: %d", subThreadID)
	}
	if thread.UserID != userID {
		return nil, nil, ErrAccessDenied
	}
	if thread.Status != store.ThreadActive {
		return nil, nil, ErrThreadInactive
	}

	def, err := m.repo.AgentByID(ctx, thread.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if def == nil || !def.IsActive {
		return nil, nil, ErrAgentNotFound
	}
	if def.UserID != userID {
		return nil, nil, ErrAccessDenied
	}
	if def.ParentThreadID != parentThreadID {
		return nil, nil, fmt.Errorf("Sub-agent thread not found in current team: %d", subThreadID)
	}
	return def, thread, nil
}

// buildRequest assembles the model request from the stored definition and
// the thread's recent history. Tool-role messages are replayed for the
// transcript only, never to the provider.
func (m *SubAgentManager) buildRequest(ctx context.Context, def *store.AgentDefinition, threadID int64) (model.Request, error) {
	window := def.MemoryWindow
	if window <= 0 {
		window = defaultMemoryWindow
	}
	history, err := m.repo.LatestMessages(ctx, threadID, window)
	if err != nil {
		return model.Request{}, err
	}

	msgs := make([]model.Message, 0, len(history))
	for _, h := range history {
		if h.Role == model.RoleTool {
			continue
		}
		msgs = append(msgs, model.Message{Role: h.Role, Content: h.Content})
	}

	maxTokens := def.MaxTokens
	if maxTokens <= 0 && def.ParentThreadID > 0 {
		maxTokens = subAgentMaxOutputTokens
	}

	return model.Request{
		System:      def.SystemPrompt,
		Messages:    msgs,
		Tools:       m.tools.Resolve(def.ToolList()),
		Temperature: def.Temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func mergeToolNames(defaults []string, extra string) []string {
	seen := make(map[string]struct{}, len(defaults)+4)
	out := make([]string, 0, len(defaults)+4)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || name == OrchestrationToolName {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range defaults {
		add(name)
	}
	for _, name := range strings.Split(extra, ",") {
		add(name)
	}
	return out
}
