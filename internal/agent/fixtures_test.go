package agent

import (
	"context"
	"sync"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/model"
	"github.com/BrotherOrange/PlayForge/internal/store"
)

// memRepo is an in-memory Repository for tests.
type memRepo struct {
	mu      sync.Mutex
	nextID  int64
	agents  map[int64]*store.AgentDefinition
	threads map[int64]*store.Thread
	msgs    []*store.Message
}

func newMemRepo() *memRepo {
	return &memRepo{
		nextID:  1,
		agents:  make(map[int64]*store.AgentDefinition),
		threads: make(map[int64]*store.Thread),
	}
}

func (r *memRepo) id() int64 {
	id := r.nextID
	r.nextID++
	return id
}

func (r *memRepo) InsertAgent(ctx context.Context, d store.AgentDefinition) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = r.id()
	now := time.Now().UnixMilli()
	d.CreatedAtUnixMs, d.UpdatedAtUnixMs = now, now
	cp := d
	r.agents[d.ID] = &cp
	return d.ID, nil
}

func (r *memRepo) AgentByID(ctx context.Context, id int64) (*store.AgentDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) AgentsByParentThread(ctx context.Context, parentThreadID int64) ([]store.AgentDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.AgentDefinition
	for id := int64(1); id < r.nextID; id++ {
		if d, ok := r.agents[id]; ok && d.ParentThreadID == parentThreadID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRepo) InsertThread(ctx context.Context, t store.Thread) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = r.id()
	if t.Status == "" {
		t.Status = store.ThreadActive
	}
	now := time.Now().UnixMilli()
	t.CreatedAtUnixMs, t.UpdatedAtUnixMs = now, now
	cp := t
	r.threads[t.ID] = &cp
	return t.ID, nil
}

func (r *memRepo) ThreadByID(ctx context.Context, id int64) (*store.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) ThreadsByUserAndAgent(ctx context.Context, userID int64, agentID int64) ([]store.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Thread
	for id := r.nextID - 1; id >= 1; id-- {
		if t, ok := r.threads[id]; ok && t.UserID == userID && t.AgentID == agentID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memRepo) CreateSubAgent(ctx context.Context, d store.AgentDefinition, title string) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UnixMilli()
	d.ID = r.id()
	d.IsActive = true
	d.CreatedAtUnixMs, d.UpdatedAtUnixMs = now, now
	cp := d
	r.agents[d.ID] = &cp

	t := store.Thread{
		ID:              r.id(),
		AgentID:         d.ID,
		UserID:          d.UserID,
		ParentThreadID:  d.ParentThreadID,
		Title:           title,
		Status:          store.ThreadActive,
		CreatedAtUnixMs: now,
		UpdatedAtUnixMs: now,
	}
	r.threads[t.ID] = &t
	return d.ID, t.ID, nil
}

func (r *memRepo) ArchiveSubAgent(ctx context.Context, agentID int64, threadID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.agents[agentID]; ok {
		d.IsActive = false
	}
	if t, ok := r.threads[threadID]; ok {
		t.Status = store.ThreadArchived
	}
	return nil
}

func (r *memRepo) MarkThreadDeleted(ctx context.Context, threadID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[threadID]; ok {
		t.Status = store.ThreadDeleted
	}
	return nil
}

func (r *memRepo) InsertMessage(ctx context.Context, m store.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = r.id()
	if m.CreatedAtUnixMs <= 0 {
		m.CreatedAtUnixMs = time.Now().UnixMilli()
	}
	cp := m
	r.msgs = append(r.msgs, &cp)
	return m.ID, nil
}

func (r *memRepo) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID == id {
			m.Content = content
			return nil
		}
	}
	return nil
}

func (r *memRepo) IncrementThreadMessageCount(ctx context.Context, threadID int64, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[threadID]; ok {
		t.MessageCount += delta
		t.LastMessageAtUnixMs = time.Now().UnixMilli()
	}
	return nil
}

func (r *memRepo) LatestMessages(ctx context.Context, threadID int64, limit int) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []store.Message
	for _, m := range r.msgs {
		if m.ThreadID == threadID {
			all = append(all, *m)
		}
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// messagesOf returns the thread's messages, oldest first.
func (r *memRepo) messagesOf(threadID int64) []store.Message {
	out, _ := r.LatestMessages(context.Background(), threadID, 0)
	return out
}

// fakeModel is a scriptable StreamingChatModel. Responses are consumed in
// order; errs with the same index fail that call instead.
type fakeModel struct {
	mu        sync.Mutex
	calls     int
	responses []model.Response
	errs      []error
	lastReq   model.Request
	stream    [][]model.Event
}

func (f *fakeModel) next() (model.Response, error, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp model.Response
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err, i
}

func (f *fakeModel) Chat(ctx context.Context, req model.Request) (*model.Response, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	resp, err, _ := f.next()
	if err != nil {
		return nil, err
	}
	cp := resp
	return &cp, nil
}

func (f *fakeModel) ChatStream(ctx context.Context, req model.Request) (<-chan model.Event, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	resp, err, i := f.next()
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Event, 16)
	go func() {
		defer close(ch)
		if i < len(f.stream) && f.stream[i] != nil {
			for _, ev := range f.stream[i] {
				ch <- ev
			}
			return
		}
		for _, tok := range splitTokens(resp.Text) {
			ch <- model.Event{Type: model.EventToken, Text: tok}
		}
		cp := resp
		ch <- model.Event{Type: model.EventComplete, Response: &cp}
	}()
	return ch, nil
}

func splitTokens(s string) []string {
	if s == "" {
		return nil
	}
	const n = 4
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeModel) lastRequest() model.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func newTestModels(t interface{ Fatalf(string, ...any) }, m model.StreamingChatModel) *model.Registry {
	r := model.NewRegistry()
	if err := r.Register("anthropic", m); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

func fastRetry() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
}

// seedLeadFixture inserts a lead agent with the orchestration tool and an
// active thread, returning the setup for further calls.
func seedLeadFixture(r *memRepo) (userID, agentID, threadID int64) {
	userID = 1
	agentID, _ = r.InsertAgent(context.Background(), store.AgentDefinition{
		UserID:       userID,
		Name:         "lead",
		Provider:     "anthropic",
		ModelName:    "claude-sonnet-4-5",
		SystemPrompt: "You are the Lead Designer.",
		ToolNames:    OrchestrationToolName + ",dateTime",
		MemoryWindow: defaultMemoryWindow,
		Temperature:  0.7,
		MaxTokens:    8192,
		IsActive:     true,
	})
	threadID, _ = r.InsertThread(context.Background(), store.Thread{
		AgentID: agentID,
		UserID:  userID,
		Title:   "design session",
	})
	return userID, agentID, threadID
}
