package provider

import (
	"context"
	"encoding/json"
)

// ID names a model provider.
type ID string

const (
	// AnthropicID is the Anthropic Claude provider.
	AnthropicID ID = "anthropic"
	// OpenAIID is the OpenAI provider.
	OpenAIID ID = "openai"
	// GeminiID is the Google Gemini provider.
	GeminiID ID = "gemini"
)

// All lists every supported provider.
var All = []ID{AnthropicID, OpenAIID, GeminiID}

// Valid reports whether the ID names a known provider.
func (id ID) Valid() bool {
	switch id {
	case AnthropicID, OpenAIID, GeminiID:
		return true
	}
	return false
}

// fallbacks maps each provider to the order its alternates are tried in.
var fallbacks = map[ID][]ID{
	AnthropicID: {OpenAIID, GeminiID},
	OpenAIID:    {AnthropicID, GeminiID},
	GeminiID:    {OpenAIID, AnthropicID},
}

// Fallbacks returns the alternates for a provider in preference order.
func Fallbacks(id ID) []ID {
	out := make([]ID, len(fallbacks[id]))
	copy(out, fallbacks[id])
	return out
}

// ChatMessage is one turn of conversation sent to a provider.
// Role is "user" or "assistant"; tool results ride in ToolResults.
type ChatMessage struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult carries the outcome of a tool call back to the model.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	Properties  map[string]interface{}
	Required    []string
}

// Request is a single completion request.
type Request struct {
	Model     string
	System    string
	Messages  []ChatMessage
	Tools     []ToolSchema
	MaxTokens int64
}

// Completion is a provider response, normalized across providers.
type Completion struct {
	Text         string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// WantsTools reports whether the model stopped to request tool execution.
func (c *Completion) WantsTools() bool { return len(c.ToolCalls) > 0 }

// Invoker is a client for one provider. Implementations classify their
// failures as *Error so the executor can pick retry or fallback.
type Invoker interface {
	// ID returns the provider this invoker talks to.
	ID() ID
	// DefaultModel returns the model used when a request names none.
	DefaultModel() string
	// Invoke sends one completion request and blocks for the response.
	Invoke(ctx context.Context, req Request) (*Completion, error)
}
