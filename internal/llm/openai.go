package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// Sampling parameters for review conversations.
const (
	reviewTemperature = 0.7
	reviewTopP        = 0.95
)

// openaiProvider serves any OpenAI-compatible chat completion API;
// Gemini's compatibility endpoint and OpenAI itself both go through
// here with different base URLs.
type openaiProvider struct {
	name   string
	client *openai.Client
}

func newOpenAIProvider(name, apiKey, baseURL string) *openaiProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openaiProvider{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (p *openaiProvider) Name() string {
	return p.name
}

// NewConversation opens a fresh conversation against model. The
// returned handle owns its message history for its whole life, which
// is what lets a continued session keep its accumulated context.
func (p *openaiProvider) NewConversation(model string) (Handle, error) {
	if model == "" {
		model = DefaultModel
	}
	return &conversation{client: p.client, model: model}, nil
}

type conversation struct {
	client *openai.Client
	model  string

	mu       sync.Mutex
	messages []openai.ChatCompletionMessage
}

func (c *conversation) Send(ctx context.Context, text string) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	return c.complete(ctx)
}

func (c *conversation) SendToolResults(ctx context.Context, results []ToolResult) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range results {
		c.messages = append(c.messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    r.Content,
			Name:       r.Name,
			ToolCallID: r.CallID,
		})
	}
	return c.complete(ctx)
}

// complete sends the accumulated history and appends the model's
// reply to it. Caller holds mu.
func (c *conversation) complete(ctx context.Context) (*Turn, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    c.messages,
		Tools:       NavigationTools(),
		Temperature: reviewTemperature,
		TopP:        reviewTopP,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	msg := resp.Choices[0].Message
	c.messages = append(c.messages, msg)

	turn := &Turn{
		Text: msg.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			// Malformed argument JSON leaves args empty; the dispatch
			// layer reports the missing argument back to the model.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return turn, nil
}

func (c *conversation) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *conversation) Close() error {
	return nil
}
