package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrotherOrange/PlayForge/internal/model"
	"github.com/BrotherOrange/PlayForge/internal/store"
)

// busIdleTTL is how long an idle task bus survives between turns before the
// janitor reclaims it. Pending tasks keep a bus alive regardless.
const busIdleTTL = 30 * time.Minute

type busEntry struct {
	bus      *TaskBus
	lastUsed time.Time
}

// Service is the chat entry point. It owns one task bus per orchestrating
// lead thread and routes turns through the streaming pipeline.
type Service struct {
	repo       Repository
	archetypes *ArchetypeRegistry
	models     *model.Registry
	tools      *ToolRegistry
	manager    *SubAgentManager
	streamer   *Streamer
	log        *slog.Logger

	mu    sync.Mutex
	buses map[int64]*busEntry

	janitorStop chan struct{}
	closeOnce   sync.Once

	// janitorInterval is shortened in tests.
	janitorInterval time.Duration
	busTTL          time.Duration
}

func NewService(repo Repository, archetypes *ArchetypeRegistry, models *model.Registry, tools *ToolRegistry, retry *RetryPolicy, log *slog.Logger) *Service {
	if archetypes == nil {
		archetypes = NewArchetypeRegistry()
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		repo:            repo,
		archetypes:      archetypes,
		models:          models,
		tools:           tools,
		manager:         NewSubAgentManager(repo, archetypes, models, tools, retry, log),
		streamer:        NewStreamer(repo, retry, log),
		log:             log,
		buses:           make(map[int64]*busEntry),
		janitorStop:     make(chan struct{}),
		janitorInterval: time.Minute,
		busTTL:          busIdleTTL,
	}
	go s.janitor()
	return s
}

// NewLeadSession creates a lead agent from the leadDesigner archetype and an
// active thread for it, returning the thread id.
func (s *Service) NewLeadSession(ctx context.Context, userID int64, provider, modelName, title string) (int64, error) {
	if s == nil || s.repo == nil {
		return 0, errors.New("service not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	provider = strings.TrimSpace(provider)
	modelName = strings.TrimSpace(modelName)
	if userID <= 0 || provider == "" || modelName == "" {
		return 0, errors.New("invalid request")
	}
	if _, err := s.models.Resolve(provider); err != nil {
		return 0, err
	}

	lead, ok := s.archetypes.Lookup("leadDesigner")
	if !ok {
		return 0, errors.New("leadDesigner archetype missing")
	}

	agentID, err := s.repo.InsertAgent(ctx, store.AgentDefinition{
		UserID:       userID,
		Name:         "leadDesigner-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		DisplayName:  lead.Description,
		Provider:     provider,
		ModelName:    modelName,
		SystemPrompt: lead.SystemPrompt,
		ToolNames:    strings.Join(lead.DefaultTools, ","),
		AgentType:    "leadDesigner",
		MemoryWindow: defaultMemoryWindow,
		IsActive:     true,
	})
	if err != nil {
		return 0, err
	}
	return s.repo.InsertThread(ctx, store.Thread{
		AgentID: agentID,
		UserID:  userID,
		Title:   strings.TrimSpace(title),
	})
}

// Chat runs one synchronous turn on a thread and returns the assistant text.
func (s *Service) Chat(ctx context.Context, userID, threadID int64, message string) (string, error) {
	sink := noopSink{}
	return s.run(ctx, userID, threadID, message, sink)
}

// ChatStream runs one turn and streams events: tokens, thinking, then a
// completion or error. The channel closes when the turn is over. Cancelling
// ctx stops delivery but not persistence.
func (s *Service) ChatStream(ctx context.Context, userID, threadID int64, message string) (<-chan model.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Validate up front so callers get an error instead of a dead channel.
	if _, _, err := s.threadContext(ctx, userID, threadID); err != nil {
		return nil, err
	}

	sink := NewChannelSink(ctx, 1024)
	go func() {
		defer sink.Close()
		// The turn itself runs on a background context: a disconnected
		// client must not abort persistence.
		if _, err := s.run(context.Background(), userID, threadID, message, sink); err != nil {
			s.log.Warn("stream turn failed", "threadId", threadID, "error", err)
		}
	}()
	return sink.Events(), nil
}

func (s *Service) run(ctx context.Context, userID, threadID int64, message string, sink EventSink) (string, error) {
	if s == nil || s.repo == nil {
		return "", errors.New("service not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	def, thread, err := s.threadContext(ctx, userID, threadID)
	if err != nil {
		return "", err
	}

	chat, err := s.models.Resolve(def.Provider)
	if err != nil {
		return "", err
	}

	orchestrating := def.HasTool(OrchestrationToolName)
	var bus *TaskBus
	if orchestrating {
		bus = s.busFor(thread.ID)
	} else {
		// The definition may have lost the capability since the last turn.
		s.releaseBus(thread.ID)
	}

	buildReq := func(ctx context.Context) (model.Request, error) {
		req, err := s.manager.buildRequest(ctx, def, thread.ID)
		if err != nil {
			return model.Request{}, err
		}
		if orchestrating {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += s.archetypes.Catalog()

			team := NewTeamTools(s.manager, bus, userID, thread.ID, func(msg string) {
				sink.Send(model.Event{Type: model.EventThinking, Text: msg})
			})
			req.Tools = append(req.Tools, team.Tools()...)
		}
		return req, nil
	}

	return s.streamer.Run(ctx, chat, buildReq, thread.ID, message, bus, sink)
}

// DeleteThread soft-deletes a thread. For orchestrating threads the whole
// team is archived and the task bus is torn down first.
func (s *Service) DeleteThread(ctx context.Context, userID, threadID int64) error {
	if s == nil || s.repo == nil {
		return errors.New("service not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	def, thread, err := s.threadContext(ctx, userID, threadID)
	if err != nil {
		return err
	}

	if def.HasTool(OrchestrationToolName) {
		if err := s.manager.DestroyAll(ctx, userID, thread.ID); err != nil {
			s.log.Warn("destroy team failed during thread delete", "threadId", thread.ID, "error", err)
		}
	}
	s.releaseBus(thread.ID)
	return s.repo.MarkThreadDeleted(ctx, thread.ID)
}

// TeamAgents lists the sub-agents of an orchestrating thread with live
// working flags.
func (s *Service) TeamAgents(ctx context.Context, userID, threadID int64) ([]SubAgentInfo, error) {
	infos, err := s.manager.List(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	entry := s.buses[threadID]
	s.mu.Unlock()
	if entry != nil {
		for i := range infos {
			infos[i].Working = entry.bus.IsWorking(infos[i].ThreadID)
		}
	}
	return infos, nil
}

// Close stops the janitor and shuts down every task bus.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() { close(s.janitorStop) })
	s.mu.Lock()
	entries := make([]*busEntry, 0, len(s.buses))
	for id, e := range s.buses {
		entries = append(entries, e)
		delete(s.buses, id)
	}
	s.mu.Unlock()
	for _, e := range entries {
		e.bus.Shutdown()
	}
}

func (s *Service) threadContext(ctx context.Context, userID, threadID int64) (*store.AgentDefinition, *store.Thread, error) {
	if userID <= 0 || threadID <= 0 {
		return nil, nil, errors.New("invalid request")
	}
	thread, err := s.repo.ThreadByID(ctx, threadID)
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
	if thread.Status != store.ThreadActive {
		return nil, nil, ErrThreadInactive
	}
	def, err := s.repo.AgentByID(ctx, thread.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if def == nil {
		return nil, nil, ErrAgentNotFound
	}
	return def, thread, nil
}

func (s *Service) busFor(threadID int64) *TaskBus {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.buses[threadID]
	if !ok {
		entry = &busEntry{bus: NewTaskBus()}
		s.buses[threadID] = entry
	}
	entry.lastUsed = time.Now()
	return entry.bus
}

func (s *Service) releaseBus(threadID int64) {
	s.mu.Lock()
	entry, ok := s.buses[threadID]
	if ok {
		delete(s.buses, threadID)
	}
	s.mu.Unlock()
	if ok {
		entry.bus.Shutdown()
	}
}

// janitor reclaims buses that sat idle past the TTL with no running tasks.
func (s *Service) janitor() {
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.janitorStop:
			return
		case <-ticker.C:
			s.sweepBuses(time.Now())
		}
	}
}

func (s *Service) sweepBuses(now time.Time) {
	var stale []*busEntry
	s.mu.Lock()
	for id, e := range s.buses {
		if e.bus.PendingCount() == 0 && now.Sub(e.lastUsed) > s.busTTL {
			stale = append(stale, e)
			delete(s.buses, id)
		}
	}
	s.mu.Unlock()
	for _, e := range stale {
		e.bus.Shutdown()
	}
}
