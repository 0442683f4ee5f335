package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BrotherOrange/PlayForge/internal/model"

	"github.com/BrotherOrange/PlayForge/internal/store"
)

// persistStepChars is how much new assistant text accumulates before the
// partial row is rewritten. Persistence keeps going after the sink
// disconnects so a dropped client never loses a completed turn.
const persistStepChars = 800

// EventSink receives streaming events for delivery to a client. Send must
// not block; Cancelled reports whether the client went away.
type EventSink interface {
	Send(ev model.Event)
	Cancelled() bool
}

// ChannelSink is an EventSink backed by a buffered channel. Events are
// dropped when the buffer is full, matching how flaky clients are handled
// elsewhere: persistence is authoritative, the live stream is best effort.
type ChannelSink struct {
	ctx  context.Context
	ch   chan model.Event
	once sync.Once
}

func NewChannelSink(ctx context.Context, buffer int) *ChannelSink {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &ChannelSink{ctx: ctx, ch: make(chan model.Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan model.Event { return s.ch }

func (s *ChannelSink) Send(ev model.Event) {
	if s == nil {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *ChannelSink) Cancelled() bool {
	if s == nil {
		return true
	}
	return s.ctx.Err() != nil
}

// Close closes the event channel. Safe to call multiple times.
func (s *ChannelSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.ch) })
}

// Streamer runs one streaming conversation turn and persists it. The user
// message is stored before the model is called; the assistant message is
// written incrementally and finalized exactly once, whether the stream
// succeeds, fails or the client disconnects mid-way.
type Streamer struct {
	repo  Repository
	retry *RetryPolicy
	log   *slog.Logger
}

func NewStreamer(repo Repository, retry *RetryPolicy, log *slog.Logger) *Streamer {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{repo: repo, retry: retry, log: log}
}

// Run executes one turn on threadID. buildReq is called per attempt so a
// retry sees the freshly persisted user message. bus may be nil for agents
// without orchestration capability.
func (s *Streamer) Run(
	ctx context.Context,
	chat model.StreamingChatModel,
	buildReq func(ctx context.Context) (model.Request, error),
	threadID int64,
	userMessage string,
	bus *TaskBus,
	sink EventSink,
) (string, error) {
	if s == nil || s.repo == nil {
		return "", errors.New("streamer not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return "", errors.New("empty message")
	}
	if sink == nil {
		sink = noopSink{}
	}

	if _, err := s.repo.InsertMessage(ctx, store.Message{ThreadID: threadID, Role: model.RoleUser, Content: userMessage}); err != nil {
		return "", err
	}
	if err := s.repo.IncrementThreadMessageCount(ctx, threadID, 1); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		text, thinking, partialID, resp, err := s.attempt(ctx, chat, buildReq, threadID, sink)
		if err == nil {
			return s.finalize(ctx, threadID, text, thinking, partialID, resp, bus, sink)
		}
		lastErr = err

		// Retry only while nothing has been streamed to the client. Once
		// tokens went out, a retry would duplicate them.
		if text == "" && attempt < s.retry.MaxRetries && Retryable(err) {
			s.log.Warn("stream attempt failed, retrying",
				"threadId", threadID, "attempt", attempt, "error", err)
			if werr := s.retry.wait(ctx, s.retry.Backoff(attempt)); werr != nil {
				break
			}
			continue
		}

		if text != "" {
			// Keep the partial output: it is better than losing the turn.
			s.log.Warn("stream broke mid-turn, keeping partial output",
				"threadId", threadID, "chars", len(text), "error", err)
			if _, ferr := s.finalize(ctx, threadID, text, thinking, partialID, nil, bus, sink); ferr != nil {
				s.log.Warn("finalize partial failed", "threadId", threadID, "error", ferr)
			}
			sink.Send(model.Event{Type: model.EventError, Err: err})
			return text, err
		}
		break
	}

	if _, err := s.repo.InsertMessage(ctx, store.Message{
		ThreadID: threadID,
		Role:     model.RoleAssistant,
		Content:  "[Error] " + model.RootMessage(lastErr),
	}); err != nil {
		s.log.Warn("persist error marker failed", "threadId", threadID, "error", err)
	} else if err := s.repo.IncrementThreadMessageCount(ctx, threadID, 1); err != nil {
		s.log.Warn("increment after error failed", "threadId", threadID, "error", err)
	}
	sink.Send(model.Event{Type: model.EventError, Err: lastErr})
	return "", lastErr
}

// attempt consumes one model stream. It returns whatever text and thinking
// accumulated, the partial assistant row id if one was written, the final
// response if the stream completed, and the error that ended it otherwise.
// Partial writes happen even after the sink cancels: the client is gone,
// the transcript is not.
func (s *Streamer) attempt(
	ctx context.Context,
	chat model.StreamingChatModel,
	buildReq func(ctx context.Context) (model.Request, error),
	threadID int64,
	sink EventSink,
) (text, thinking string, partialID int64, resp *model.Response, err error) {
	req, err := buildReq(ctx)
	if err != nil {
		return "", "", 0, nil, err
	}
	events, err := chat.ChatStream(ctx, req)
	if err != nil {
		return "", "", 0, nil, err
	}

	var textB, thinkB strings.Builder
	persisted := 0
	for ev := range events {
		switch ev.Type {
		case model.EventToken:
			textB.WriteString(ev.Text)
			if !sink.Cancelled() {
				sink.Send(ev)
			}
			if textB.Len()-persisted >= persistStepChars {
				partialID = s.persistPartial(ctx, threadID, partialID, textB.String())
				persisted = textB.Len()
			}
		case model.EventThinking:
			thinkB.WriteString(ev.Text)
			if !sink.Cancelled() {
				sink.Send(ev)
			}
		case model.EventComplete:
			return textB.String(), thinkB.String(), partialID, ev.Response, nil
		case model.EventError:
			return textB.String(), thinkB.String(), partialID, nil, ev.Err
		}
	}
	return textB.String(), thinkB.String(), partialID, nil, errors.New("stream closed without completion")
}

// persistPartial inserts or rewrites the in-progress assistant row. Write
// failures are logged and skipped; the next step retries with more text.
func (s *Streamer) persistPartial(ctx context.Context, threadID, partialID int64, content string) int64 {
	if partialID == 0 {
		id, err := s.repo.InsertMessage(ctx, store.Message{ThreadID: threadID, Role: model.RoleAssistant, Content: content})
		if err != nil {
			s.log.Warn("persist partial failed", "threadId", threadID, "error", err)
			return 0
		}
		return id
	}
	if err := s.repo.UpdateMessageContent(ctx, partialID, content); err != nil {
		s.log.Warn("update partial failed", "threadId", threadID, "error", err)
	}
	return partialID
}

// finalize persists the turn: thinking as a tool-role transcript entry, the
// assistant text as one message with exactly one counter increment. When
// the model produced neither text nor thinking, a fallback notice is
// synthesized so the thread never shows an empty assistant turn.
func (s *Streamer) finalize(ctx context.Context, threadID int64, text, thinking string, partialID int64, resp *model.Response, bus *TaskBus, sink EventSink) (string, error) {
	if resp != nil {
		if text == "" {
			text = resp.Text
		}
		if thinking == "" {
			thinking = resp.Thinking
		}
	}

	if text == "" {
		switch {
		case thinking != "":
			text = thinking
		case bus != nil && bus.PendingCount() > 0:
			n := bus.PendingCount()
			text = fmt.Sprintf("已派发 %d 个子Agent任务，正在后台处理。%d agent(s) working in background. Use awaitResults to collect their output.", n, n)
		default:
			text = "(no response)"
		}
		sink.Send(model.Event{Type: model.EventToken, Text: text})
	}

	if thinking != "" && thinking != text {
		if _, err := s.repo.InsertMessage(ctx, store.Message{
			ThreadID: threadID,
			Role:     model.RoleTool,
			ToolName: "thinking",
			Content:  thinking,
		}); err != nil {
			s.log.Warn("persist thinking failed", "threadId", threadID, "error", err)
		}
	}

	if partialID != 0 {
		if err := s.repo.UpdateMessageContent(ctx, partialID, text); err != nil {
			return "", err
		}
	} else if _, err := s.repo.InsertMessage(ctx, store.Message{ThreadID: threadID, Role: model.RoleAssistant, Content: text}); err != nil {
		return "", err
	}
	if err := s.repo.IncrementThreadMessageCount(ctx, threadID, 1); err != nil {
		return "", err
	}

	final := &model.Response{Text: text, Thinking: thinking}
	sink.Send(model.Event{Type: model.EventComplete, Response: final})
	return text, nil
}

type noopSink struct{}

func (noopSink) Send(model.Event) {}
func (noopSink) Cancelled() bool  { return true }
