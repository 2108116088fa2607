package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	// Gemini exposes an OpenAI-compatible surface at this base URL.
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// CompatConfig configures an OpenAI-compatible chat completions invoker.
type CompatConfig struct {
	// Provider names the provider this client fronts (openai or gemini).
	Provider ID
	// Model is the default model for requests that name none.
	Model string
	// APIKey authenticates requests via Authorization: Bearer.
	APIKey string
	// BaseURL overrides the provider's default endpoint.
	BaseURL string
	// Timeout bounds each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// CompatInvoker speaks the OpenAI-compatible chat completions API.
// Both OpenAI and Gemini are served through this client.
type CompatInvoker struct {
	provider ID
	model    string
	apiKey   string
	baseURL  string
	client   *http.Client
}

// NewCompatInvoker creates an invoker for an OpenAI-compatible endpoint.
func NewCompatInvoker(cfg CompatConfig) (*CompatInvoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is not set", cfg.Provider)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Provider {
		case GeminiID:
			baseURL = geminiBaseURL
		default:
			baseURL = openAIBaseURL
		}
	}

	model := cfg.Model
	if model == "" {
		switch cfg.Provider {
		case GeminiID:
			model = "gemini-2.0-flash"
		default:
			model = "gpt-4o"
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &CompatInvoker{
		provider: cfg.Provider,
		model:    model,
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// ID returns the provider this invoker fronts.
func (c *CompatInvoker) ID() ID { return c.provider }

// DefaultModel returns the configured default model.
func (c *CompatInvoker) DefaultModel() string { return c.model }

// Invoke sends one chat completions request and normalizes the response.
func (c *CompatInvoker) Invoke(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	payload := map[string]any{
		"model":      model,
		"messages":   convertCompatMessages(req.System, req.Messages),
		"max_tokens": maxTokens,
		"stream":     false,
	}
	if len(req.Tools) > 0 {
		payload["tools"] = convertCompatTools(req.Tools)
		payload["tool_choice"] = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classify(c.provider, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(c.provider, resp.StatusCode, fmt.Errorf("%s", compactBody(respBody)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, classify(c.provider, resp.StatusCode,
			fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, classify(c.provider, 0, fmt.Errorf("no choices in response"))
	}

	choice := parsed.Choices[0]
	out := &Completion{
		Text:         choice.Message.Content,
		StopReason:   choice.FinishReason,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// convertCompatMessages flattens normalized history into OpenAI message maps.
// The system prompt rides as the leading system-role message; tool results
// become tool-role messages keyed by tool_call_id.
func convertCompatMessages(system string, history []ChatMessage) []map[string]any {
	out := make([]map[string]any, 0, len(history)+1)
	if system != "" {
		out = append(out, map[string]any{"role": "system", "content": system})
	}
	for _, m := range history {
		if len(m.ToolResults) > 0 {
			for _, r := range m.ToolResults {
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": r.CallID,
					"content":      r.Content,
				})
			}
			continue
		}
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(tc.Input),
					},
				})
			}
			entry["tool_calls"] = calls
		}
		out = append(out, entry)
	}
	return out
}

// convertCompatTools renders tool schemas as OpenAI function definitions.
func convertCompatTools(tools []ToolSchema) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		props := t.Properties
		if props == nil {
			props = map[string]interface{}{}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters": map[string]any{
					"type":       "object",
					"properties": props,
					"required":   t.Required,
				},
			},
		})
	}
	return out
}

// compactBody trims an error body for inclusion in error messages.
func compactBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}
