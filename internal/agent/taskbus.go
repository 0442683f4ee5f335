package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TaskResult is one finished background task. Failed tasks carry the error
// text in Result with IsError set.
type TaskResult struct {
	ThreadID  int64
	AgentName string
	Result    string
	IsError   bool
}

type pendingTask struct {
	agentName string
	cancel    context.CancelFunc
}

// TaskBus runs sub-agent tasks in the background and buffers their results
// until the lead agent collects them. One bus exists per lead thread.
//
// Results are never dropped or duplicated: a finished task moves from the
// pending set into the result buffer in one step, and the buffer grows
// without bound until drained. Cancelling removes the task from the pending
// set immediately; whatever the cancelled goroutine eventually returns is
// discarded.
type TaskBus struct {
	mu      sync.Mutex
	pending map[int64]*pendingTask
	results []TaskResult
	closed  bool

	// signal is pulsed whenever a result lands, waking AwaitResults.
	signal chan struct{}
}

func NewTaskBus() *TaskBus {
	return &TaskBus{
		pending: make(map[int64]*pendingTask),
		signal:  make(chan struct{}, 1),
	}
}

// Dispatch starts run in the background. A thread can hold at most one
// pending task at a time; a cancelled thread is free for re-dispatch right
// away.
func (b *TaskBus) Dispatch(threadID int64, agentName string, run func(ctx context.Context) (string, error)) error {
	if b == nil {
		return fmt.Errorf("task bus not initialized")
	}
	if threadID <= 0 || run == nil {
		return fmt.Errorf("invalid task")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pendingTask{agentName: agentName, cancel: cancel}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("task bus closed")
	}
	if _, ok := b.pending[threadID]; ok {
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("task already running for threadId: %d", threadID)
	}
	b.pending[threadID] = p
	b.mu.Unlock()

	go func() {
		defer cancel()
		out, err := run(ctx)
		if err != nil {
			b.complete(p, TaskResult{ThreadID: threadID, AgentName: agentName, Result: "Error: " + err.Error(), IsError: true})
			return
		}
		b.complete(p, TaskResult{ThreadID: threadID, AgentName: agentName, Result: out})
	}()
	return nil
}

// complete moves the task from pending into the result buffer atomically.
// A task whose registration is gone was cancelled or superseded by a
// re-dispatch; its result is discarded.
func (b *TaskBus) complete(p *pendingTask, r TaskResult) {
	b.mu.Lock()
	cur, ok := b.pending[r.ThreadID]
	if !ok || cur != p || b.closed {
		if ok && cur == p {
			delete(b.pending, r.ThreadID)
		}
		b.mu.Unlock()
		return
	}
	delete(b.pending, r.ThreadID)
	b.results = append(b.results, r)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// AwaitResults returns buffered results without blocking. If none are
// buffered and tasks are pending it waits up to timeout for the first one,
// then drains whatever else arrived. Results come back in completion order.
func (b *TaskBus) AwaitResults(ctx context.Context, timeout time.Duration) []TaskResult {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	out := b.results
	b.results = nil
	pending := len(b.pending)
	b.mu.Unlock()
	if len(out) > 0 {
		return out
	}
	if pending == 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-b.signal:
			if out := b.take(); len(out) > 0 {
				return out
			}
		case <-timer.C:
			return b.take()
		case <-ctx.Done():
			return b.take()
		}
	}
}

func (b *TaskBus) take() []TaskResult {
	b.mu.Lock()
	out := b.results
	b.results = nil
	b.mu.Unlock()
	return out
}

// PendingCount reports how many tasks are still running.
func (b *TaskBus) PendingCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// PendingAgents returns the names of agents with running tasks, sorted.
func (b *TaskBus) PendingAgents() []string {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	names := make([]string, 0, len(b.pending))
	for _, p := range b.pending {
		names = append(names, p.agentName)
	}
	b.mu.Unlock()
	sort.Strings(names)
	return names
}

// IsWorking reports whether the thread has a running task.
func (b *TaskBus) IsWorking(threadID int64) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[threadID]
	return ok
}

// Cancel aborts the thread's running task if any. The task leaves the
// pending set immediately, so the thread id can be re-dispatched without
// waiting for the aborted goroutine to notice.
func (b *TaskBus) Cancel(threadID int64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	p, ok := b.pending[threadID]
	if ok {
		delete(b.pending, threadID)
	}
	b.mu.Unlock()
	if ok {
		p.cancel()
	}
}

// Shutdown cancels every running task and stops accepting new ones.
func (b *TaskBus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cancels := make([]context.CancelFunc, 0, len(b.pending))
	for id, p := range b.pending {
		delete(b.pending, id)
		cancels = append(cancels, p.cancel)
	}
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
