package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/model"
)

func staticReq() func(ctx context.Context) (model.Request, error) {
	return func(ctx context.Context) (model.Request, error) {
		return model.Request{}, nil
	}
}

func newStreamFixture(t *testing.T) (*Streamer, *memRepo, int64) {
	t.Helper()
	repo := newMemRepo()
	_, _, threadID := seedLeadFixture(repo)
	return NewStreamer(repo, fastRetry(), nil), repo, threadID
}

func collectEvents(sink *ChannelSink) []model.Event {
	sink.Close()
	var out []model.Event
	for ev := range sink.Events() {
		out = append(out, ev)
	}
	return out
}

func TestStreamerHappyPath(t *testing.T) {
	t.Parallel()
	s, repo, threadID := newStreamFixture(t)
	fm := &fakeModel{responses: []model.Response{{Text: "The crafting loop has three phases.", Thinking: "weigh pacing"}}}
	sink := NewChannelSink(context.Background(), 64)

	out, err := s.Run(context.Background(), fm, staticReq(), threadID, "Describe the crafting loop.", nil, sink)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "The crafting loop has three phases." {
		t.Fatalf("Run() = %q", out)
	}

	msgs := repo.messagesOf(threadID)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "Describe the crafting loop." {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != out {
		t.Fatalf("second message = %+v", msgs[1])
	}

	th, _ := repo.ThreadByID(context.Background(), threadID)
	if th.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", th.MessageCount)
	}

	events := collectEvents(sink)
	var tokens strings.Builder
	sawComplete := false
	for _, ev := range events {
		switch ev.Type {
		case model.EventToken:
			tokens.WriteString(ev.Text)
		case model.EventComplete:
			sawComplete = true
			if ev.Response == nil || ev.Response.Text != out {
				t.Fatalf("complete event = %+v", ev.Response)
			}
		}
	}
	if tokens.String() != out {
		t.Fatalf("streamed tokens = %q, want %q", tokens.String(), out)
	}
	if !sawComplete {
		t.Fatal("no completion event delivered")
	}
}

func TestStreamerRetriesBeforeFirstToken(t *testing.T) {
	t.Parallel()
	s, repo, threadID := newStreamFixture(t)
	fm := &fakeModel{
		errs:      []error{model.NewError(model.KindNetwork, "upstream hiccup", nil), nil},
		responses: []model.Response{{}, {Text: "recovered answer"}},
	}
	sink := NewChannelSink(context.Background(), 64)

	out, err := s.Run(context.Background(), fm, staticReq(), threadID, "hello", nil, sink)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "recovered answer" {
		t.Fatalf("Run() = %q", out)
	}
	if n := fm.callCount(); n != 2 {
		t.Fatalf("stream attempts = %d, want 2", n)
	}

	// The failed attempt must not leave stray messages.
	msgs := repo.messagesOf(threadID)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
}

func TestStreamerKeepsPartialOnMidStreamFailure(t *testing.T) {
	t.Parallel()
	s, repo, threadID := newStreamFixture(t)
	fm := &fakeModel{
		stream: [][]model.Event{{
			{Type: model.EventToken, Text: "Phase one: gather "},
			{Type: model.EventToken, Text: "resources."},
			{Type: model.EventError, Err: model.NewError(model.KindNetwork, "connection reset", nil)},
		}},
	}
	sink := NewChannelSink(context.Background(), 64)

	out, err := s.Run(context.Background(), fm, staticReq(), threadID, "go", nil, sink)
	if err == nil {
		t.Fatal("Run() error = nil, want mid-stream error")
	}
	if out != "Phase one: gather resources." {
		t.Fatalf("Run() partial = %q", out)
	}
	// No retry once tokens were emitted.
	if n := fm.callCount(); n != 1 {
		t.Fatalf("stream attempts = %d, want 1", n)
	}

	msgs := repo.messagesOf(threadID)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[1].Content != out {
		t.Fatalf("persisted partial = %q, want %q", msgs[1].Content, out)
	}
	th, _ := repo.ThreadByID(context.Background(), threadID)
	if th.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", th.MessageCount)
	}
}

func TestStreamerPersistsErrorMarker(t *testing.T) {
	t.Parallel()
	s, repo, threadID := newStreamFixture(t)
	rateErr := model.NewError(model.KindRateLimit, "rate_limit", nil)
	fm := &fakeModel{errs: []error{rateErr, rateErr, rateErr}}
	sink := NewChannelSink(context.Background(), 64)

	_, err := s.Run(context.Background(), fm, staticReq(), threadID, "go", nil, sink)
	if err == nil {
		t.Fatal("Run() error = nil, want error after retries exhausted")
	}
	if n := fm.callCount(); n != 3 {
		t.Fatalf("stream attempts = %d, want 3", n)
	}

	msgs := repo.messagesOf(threadID)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	want := "[Error] Rate limit exceeded. The task will be retried automatically."
	if msgs[1].Content != want {
		t.Fatalf("error marker = %q, want %q", msgs[1].Content, want)
	}

	events := collectEvents(sink)
	sawErr := false
	for _, ev := range events {
		if ev.Type == model.EventError {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatal("no error event delivered")
	}
}

func TestStreamerPersistsAfterClientDisconnect(t *testing.T) {
	t.Parallel()
	s, repo, threadID := newStreamFixture(t)

	long := strings.Repeat("design note. ", 200) // well past one persist step
	var evs []model.Event
	for _, tok := range splitTokens(long) {
		evs = append(evs, model.Event{Type: model.EventToken, Text: tok})
	}
	evs = append(evs, model.Event{Type: model.EventComplete, Response: &model.Response{Text: long}})
	fm := &fakeModel{stream: [][]model.Event{evs}}

	// Client already gone.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	sink := NewChannelSink(cancelled, 4)

	out, err := s.Run(context.Background(), fm, staticReq(), threadID, "write it all down", nil, sink)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != long {
		t.Fatalf("Run() returned %d chars, want %d", len(out), len(long))
	}

	msgs := repo.messagesOf(threadID)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2 (partial row reused)", len(msgs))
	}
	if msgs[1].Content != long {
		t.Fatalf("persisted %d chars, want %d", len(msgs[1].Content), len(long))
	}
	th, _ := repo.ThreadByID(context.Background(), threadID)
	if th.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", th.MessageCount)
	}
}

func TestStreamerThinkingPersistedAsTranscript(t *testing.T) {
	t.Parallel()
	s, repo, threadID := newStreamFixture(t)
	fm := &fakeModel{stream: [][]model.Event{{
		{Type: model.EventThinking, Text: "compare three economies"},
		{Type: model.EventToken, Text: "Use a dual-currency split."},
		{Type: model.EventComplete, Response: &model.Response{Text: "Use a dual-currency split.", Thinking: "compare three economies"}},
	}}}
	sink := NewChannelSink(context.Background(), 64)

	if _, err := s.Run(context.Background(), fm, staticReq(), threadID, "economy?", nil, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	msgs := repo.messagesOf(threadID)
	if len(msgs) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(msgs))
	}
	if msgs[1].Role != model.RoleTool || msgs[1].ToolName != "thinking" || msgs[1].Content != "compare three economies" {
		t.Fatalf("thinking message = %+v", msgs[1])
	}
	th, _ := repo.ThreadByID(context.Background(), threadID)
	if th.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2 (thinking not counted)", th.MessageCount)
	}
}

func TestStreamerCompletionFallbacks(t *testing.T) {
	t.Parallel()

	t.Run("thinking only", func(t *testing.T) {
		t.Parallel()
		s, repo, threadID := newStreamFixture(t)
		fm := &fakeModel{stream: [][]model.Event{{
			{Type: model.EventThinking, Text: "long deliberation"},
			{Type: model.EventComplete, Response: &model.Response{Thinking: "long deliberation"}},
		}}}
		out, err := s.Run(context.Background(), fm, staticReq(), threadID, "go", nil, NewChannelSink(context.Background(), 16))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if out != "long deliberation" {
			t.Fatalf("fallback = %q, want thinking text", out)
		}
		msgs := repo.messagesOf(threadID)
		if msgs[len(msgs)-1].Content != "long deliberation" {
			t.Fatalf("persisted fallback = %q", msgs[len(msgs)-1].Content)
		}
	})

	t.Run("pending sub-agent tasks", func(t *testing.T) {
		t.Parallel()
		s, _, threadID := newStreamFixture(t)
		bus := NewTaskBus()
		defer bus.Shutdown()
		release := make(chan struct{})
		defer close(release)
		if err := bus.Dispatch(77, "worker", func(ctx context.Context) (string, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return "", nil
		}); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}

		fm := &fakeModel{stream: [][]model.Event{{
			{Type: model.EventComplete, Response: &model.Response{}},
		}}}
		out, err := s.Run(context.Background(), fm, staticReq(), threadID, "delegate", bus, NewChannelSink(context.Background(), 16))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !strings.Contains(out, "已派发 1 个子Agent任务") {
			t.Fatalf("fallback = %q, want dispatch hint", out)
		}
		if !strings.Contains(out, "1 agent(s) working in background") {
			t.Fatalf("fallback = %q, want working notice", out)
		}
	})

	t.Run("nothing at all", func(t *testing.T) {
		t.Parallel()
		s, _, threadID := newStreamFixture(t)
		fm := &fakeModel{stream: [][]model.Event{{
			{Type: model.EventComplete, Response: &model.Response{}},
		}}}
		out, err := s.Run(context.Background(), fm, staticReq(), threadID, "go", nil, NewChannelSink(context.Background(), 16))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if out != "(no response)" {
			t.Fatalf("fallback = %q", out)
		}
	})
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	t.Parallel()
	sink := NewChannelSink(context.Background(), 2)
	for i := 0; i < 10; i++ {
		done := make(chan struct{})
		go func() {
			sink.Send(model.Event{Type: model.EventToken, Text: "x"})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Send blocked on a full sink")
		}
	}
	events := collectEvents(sink)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want buffer size 2", len(events))
	}
}
