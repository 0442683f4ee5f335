// Package openai adapts the OpenAI Chat Completions API (streaming and
// non-streaming, with function/tool calling) to the model interfaces.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BrotherOrange/PlayForge/internal/model"
)

const maxToolRounds = 8

// Options configure the adapter. Model is the default model id; APIKey and
// BaseURL are optional (the SDK falls back to OPENAI_API_KEY).
type Options struct {
	Model   string
	APIKey  string
	BaseURL string
}

type Client struct {
	client openai.Client
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
	return &Client{client: openai.NewClient(ro...), opts: opts}, nil
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

	messages := buildMessages(req)
	tools := buildTools(req.Tools)

	var text strings.Builder
	for round := 0; round < maxToolRounds; round++ {
		params := c.buildParams(req, messages, tools)
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, mapError(err)
		}
		if len(resp.Choices) == 0 {
			return nil, model.NewError(model.KindUnknown, "no choices returned", nil)
		}
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			text.WriteString(choice.Message.Content)
		}
		if len(choice.Message.ToolCalls) == 0 {
			return &model.Response{Text: strings.TrimSpace(text.String())}, nil
		}

		messages = append(messages, choice.Message.ToParam())
		for _, tc := range choice.Message.ToolCalls {
			result := runTool(ctx, req.Tools, tc.Function.Name, tc.Function.Arguments)
			messages = append(messages, openai.ToolMessage(result, tc.ID))
		}
	}
	return nil, model.NewError(model.KindUnknown, fmt.Sprintf("tool loop exceeded %d rounds", maxToolRounds), nil)
}

// ChatStream streams a turn. Text deltas are forwarded as they arrive; tool
// calls are aggregated per round, executed, and the stream continues with the
// tool results until a final answer.
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

		messages := buildMessages(req)
		tools := buildTools(req.Tools)
		var fullText strings.Builder

		for round := 0; round < maxToolRounds; round++ {
			params := c.buildParams(req, messages, tools)
			stream := c.client.Chat.Completions.NewStreaming(ctx, params)

			// index -> partial tool call
			agg := map[int64]*aggCall{}
			var roundText strings.Builder

			for stream.Next() {
				chunk := stream.Current()
				for _, ch := range chunk.Choices {
					if ch.Delta.Content != "" {
						roundText.WriteString(ch.Delta.Content)
						fullText.WriteString(ch.Delta.Content)
						out <- model.Event{Type: model.EventToken, Text: ch.Delta.Content}
					}
					for _, tc := range ch.Delta.ToolCalls {
						ac := agg[tc.Index]
						if ac == nil {
							ac = &aggCall{}
							agg[tc.Index] = ac
						}
						if tc.ID != "" {
							ac.id = tc.ID
						}
						if tc.Function.Name != "" {
							ac.name = tc.Function.Name
						}
						ac.args += tc.Function.Arguments
					}
				}
			}
			if err := stream.Err(); err != nil {
				out <- model.Event{Type: model.EventError, Err: mapError(err)}
				return
			}

			if len(agg) == 0 {
				out <- model.Event{Type: model.EventComplete, Response: &model.Response{Text: strings.TrimSpace(fullText.String())}}
				return
			}

			indices := make([]int64, 0, len(agg))
			for i := range agg {
				indices = append(indices, i)
			}
			sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(agg))
			for _, i := range indices {
				ac := agg[i]
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   ac.id,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      ac.name,
						Arguments: ac.args,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if txt := strings.TrimSpace(roundText.String()); txt != "" {
				assistant.Content.OfString = openai.String(txt)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			for _, call := range calls {
				result := runTool(ctx, req.Tools, call.Function.Name, call.Function.Arguments)
				messages = append(messages, openai.ToolMessage(result, call.ID))
			}
		}
		out <- model.Event{Type: model.EventError, Err: model.NewError(model.KindUnknown, fmt.Sprintf("tool loop exceeded %d rounds", maxToolRounds), nil)}
	}()
	return out, nil
}

// aggCall aggregates partial tool call streaming deltas (id, name, arguments).
type aggCall struct{ id, name, args string }

func runTool(ctx context.Context, tools []model.Tool, name string, rawArgs string) string {
	tool := model.FindTool(tools, name)
	if tool == nil || tool.Handler == nil {
		return fmt.Sprintf("Unknown tool: %s", strings.TrimSpace(name))
	}
	args := map[string]any{}
	if raw := strings.TrimSpace(rawArgs); raw != "" {
		_ = json.Unmarshal([]byte(raw), &args)
	}
	result, err := tool.Handler(ctx, args)
	if err != nil {
		return "Tool error: " + err.Error()
	}
	return result
}

func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if sys := strings.TrimSpace(req.System); sys != "" {
		out = append(out, openai.SystemMessage(sys))
	}
	for _, m := range req.Messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(content))
		case model.RoleTool:
			// Stored reasoning notes are not replayed to the provider.
		default:
			out = append(out, openai.UserMessage(content))
		}
	}
	return out
}

func buildTools(tools []model.Tool) []openai.ChatCompletionToolParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (c *Client) buildParams(req model.Request, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    c.opts.Model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) && apierr != nil {
		return model.NewError(model.KindFromStatus(apierr.StatusCode), "openai api error", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(model.KindNetwork, "openai transport error", err)
	}
	return model.NewError(model.KindUnknown, "openai error", err)
}
