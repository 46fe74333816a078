// Package llm provides the conversation handle the review loop talks
// through. A handle is an opaque, stateful connection to one reasoning
// model: it accumulates the conversation, reports tool-call requests,
// and accounts token usage. The loop never sees provider internals.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultModel is used when a review names no model.
const DefaultModel = "gemini-2.5-pro"

// DefaultProvider is used when a review names no provider.
const DefaultProvider = "gemini"

// geminiOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
const geminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult carries one executed call's outcome back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Usage is the token accounting one turn reported. Zero values mean
// the provider omitted usage for that turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Turn is one model response: final text, requested tool calls, or
// both. A turn with no tool calls terminates the review loop.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Handle is an opaque conversation owned by exactly one session. Send
// opens or continues the conversation with user text; SendToolResults
// feeds executed tool calls back. Both return the model's next turn.
type Handle interface {
	Send(ctx context.Context, text string) (*Turn, error)
	SendToolResults(ctx context.Context, results []ToolResult) (*Turn, error)
	MessageCount() int
	Close() error
}

// Provider creates conversation handles against one model service.
type Provider interface {
	Name() string
	NewConversation(model string) (Handle, error)
}

// Config selects and authenticates a provider. Empty fields fall back
// to environment variables and defaults.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// NewProvider resolves a provider by name. The set is closed; unknown
// names are an error, not a fallback.
func NewProvider(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = DefaultProvider
	}

	switch name {
	case "gemini":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini provider: GEMINI_API_KEY not set")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = geminiOpenAIBaseURL
		}
		return newOpenAIProvider("gemini", key, baseURL), nil

	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai provider: OPENAI_API_KEY not set")
		}
		return newOpenAIProvider("openai", key, cfg.BaseURL), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
