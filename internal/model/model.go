// Package model defines the provider-neutral chat model surface used by the
// agent runtime. Provider adapters live in subpackages and normalize SDK
// requests, streaming events and errors into these types.
package model

import (
	"context"
	"strings"
)

// Roles stored in history and sent to providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool is a function the model may call. Parameters is a JSON schema object
// ("type"/"properties"/"required"). Handler runs the call and returns text
// that is fed back to the model as the tool result.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Request is a single model turn. Adapters run their own tool loop: when the
// model requests tool calls, handlers are executed and the conversation is
// continued until the model produces a final text answer.
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// Response is the final result of a turn.
type Response struct {
	Text     string
	Thinking string
}

// EventType identifies a streaming event.
type EventType string

const (
	// EventToken carries an incremental chunk of answer text.
	EventToken EventType = "token"
	// EventThinking carries an incremental chunk of reasoning text.
	EventThinking EventType = "thinking"
	// EventComplete carries the final Response and ends the stream.
	EventComplete EventType = "complete"
	// EventError carries a terminal error and ends the stream.
	EventError EventType = "error"
)

// Event is one streaming event. The channel is closed after a terminal
// EventComplete or EventError.
type Event struct {
	Type     EventType
	Text     string
	Response *Response
	Err      error
}

// ChatModel runs one synchronous turn.
type ChatModel interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// StreamingChatModel additionally streams a turn. The returned channel yields
// token/thinking events followed by exactly one complete or error event.
type StreamingChatModel interface {
	ChatModel
	ChatStream(ctx context.Context, req Request) (<-chan Event, error)
}

// FindTool returns the tool with the given name, or nil.
func FindTool(tools []Tool, name string) *Tool {
	name = strings.TrimSpace(name)
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i]
		}
	}
	return nil
}
