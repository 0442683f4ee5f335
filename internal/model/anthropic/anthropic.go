// Package anthropic adapts the Anthropic Messages API (streaming and
// non-streaming, with tool use and extended thinking) to the model interfaces.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/BrotherOrange/PlayForge/internal/model"
)

const (
	maxToolRounds    = 8
	defaultMaxTokens = 4096
)

// Options configure the adapter. APIKey is optional (the SDK falls back to
// ANTHROPIC_API_KEY).
type Options struct {
	Model   string
	APIKey  string
	BaseURL string
}

type Client struct {
	client anthropic.Client
	opts   Options
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("missing model id")
	}
	var ro []option.RequestOption
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		ro = append(ro, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		ro = append(ro, option.WithBaseURL(base))
	}
	return &Client{client: anthropic.NewClient(ro...), opts: opts}, nil
}

// Chat runs a synchronous turn, executing tool calls until the model
// produces a final text answer.
func (c *Client) Chat(ctx context.Context, req model.Request) (*model.Response, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	messages := buildMessages(req.Messages)
	var text, thinking strings.Builder

	for round := 0; round < maxToolRounds; round++ {
		params := c.buildParams(req, messages)
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, mapError(err)
		}

		var toolUses []anthropic.ToolUseBlock
		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(variant.Text)
			case anthropic.ThinkingBlock:
				thinking.WriteString(variant.Thinking)
			case anthropic.ToolUseBlock:
				toolUses = append(toolUses, variant)
			}
		}
		if len(toolUses) == 0 {
			return &model.Response{
				Text:     strings.TrimSpace(text.String()),
				Thinking: strings.TrimSpace(thinking.String()),
			}, nil
		}

		messages = append(messages, resp.ToParam())
		results := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, tu := range toolUses {
			result := runTool(ctx, req.Tools, tu.Name, tu.Input)
			results = append(results, anthropic.NewToolResultBlock(tu.ID, result, false))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}
	return nil, model.NewError(model.KindUnknown, fmt.Sprintf("tool loop exceeded %d rounds", maxToolRounds), nil)
}

// ChatStream streams a turn. Text and thinking deltas are forwarded as they
// arrive; tool calls are executed between rounds.
func (c *Client) ChatStream(ctx context.Context, req model.Request) (<-chan model.Event, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	out := make(chan model.Event, 32)
	go func() {
		defer close(out)

		messages := buildMessages(req.Messages)
		var fullText, fullThinking strings.Builder

		for round := 0; round < maxToolRounds; round++ {
			params := c.buildParams(req, messages)
			stream := c.client.Messages.NewStreaming(ctx, params)
			msg := anthropic.Message{}

			for stream.Next() {
				event := stream.Current()
				if err := msg.Accumulate(event); err != nil {
					out <- model.Event{Type: model.EventError, Err: mapError(err)}
					return
				}
				variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
				if !ok {
					continue
				}
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					fullText.WriteString(delta.Text)
					out <- model.Event{Type: model.EventToken, Text: delta.Text}
				case anthropic.ThinkingDelta:
					if strings.TrimSpace(delta.Thinking) == "" {
						continue
					}
					fullThinking.WriteString(delta.Thinking)
					out <- model.Event{Type: model.EventThinking, Text: delta.Thinking}
				}
			}
			if err := stream.Err(); err != nil {
				out <- model.Event{Type: model.EventError, Err: mapError(err)}
				return
			}

			var toolUses []anthropic.ToolUseBlock
			for _, block := range msg.Content {
				if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
					toolUses = append(toolUses, tu)
				}
			}
			if len(toolUses) == 0 {
				out <- model.Event{Type: model.EventComplete, Response: &model.Response{
					Text:     strings.TrimSpace(fullText.String()),
					Thinking: strings.TrimSpace(fullThinking.String()),
				}}
				return
			}

			messages = append(messages, msg.ToParam())
			results := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
			for _, tu := range toolUses {
				result := runTool(ctx, req.Tools, tu.Name, tu.Input)
				results = append(results, anthropic.NewToolResultBlock(tu.ID, result, false))
			}
			messages = append(messages, anthropic.NewUserMessage(results...))
		}
		out <- model.Event{Type: model.EventError, Err: model.NewError(model.KindUnknown, fmt.Sprintf("tool loop exceeded %d rounds", maxToolRounds), nil)}
	}()
	return out, nil
}

func runTool(ctx context.Context, tools []model.Tool, name string, input json.RawMessage) string {
	tool := model.FindTool(tools, name)
	if tool == nil || tool.Handler == nil {
		return fmt.Sprintf("Unknown tool: %s", strings.TrimSpace(name))
	}
	args := map[string]any{}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &args)
	}
	result, err := tool.Handler(ctx, args)
	if err != nil {
		return "Tool error: " + err.Error()
	}
	return result
}

func buildMessages(history []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case model.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		case model.RoleSystem, model.RoleTool:
			// System text goes through params.System; stored reasoning notes are not replayed.
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}
	return out
}

func (c *Client) buildParams(req model.Request, messages []anthropic.MessageParam) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(c.opts.Model)),
		MaxTokens: defaultMaxTokens,
		Messages:  messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if sys := strings.TrimSpace(req.System); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if tools := buildTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return params
}

func buildTools(tools []model.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		param := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: t.Parameters["properties"],
				Required:   requiredNames(t.Parameters),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func requiredNames(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) && apierr != nil {
		return model.NewError(model.KindFromStatus(apierr.StatusCode), "anthropic api error", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(model.KindNetwork, "anthropic transport error", err)
	}
	return model.NewError(model.KindUnknown, "anthropic error", err)
}
