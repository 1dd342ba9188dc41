// Package llm wraps the OpenAI API behind the structured completion port.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"automation_server/core/port/out"
	"automation_server/pkg/resilience"

	"github.com/goccy/go-json"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

// Client implements out.LLMClient on top of go-openai. Calls go through a
// bounded retry policy for transient API failures and a circuit breaker so a
// dead upstream fails fast. Schema violations are never retried.
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32

	retry   *resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
}

// ClientConfig configures the OpenAI client.
type ClientConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration // Per-request HTTP timeout; 0 means 60s
}

// NewClient creates a client with defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

// NewClientWithConfig creates a client from explicit configuration.
func NewClientWithConfig(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	retry := resilience.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	retry.Retryable = isTransientAPIError

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	apiConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		client:      openai.NewClientWithConfig(apiConfig),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		retry:       retry,
		breaker:     resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("openai")),
	}
}

// isTransientAPIError treats rate limits and server errors as retryable.
func isTransientAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr) // network-level failure
}

// CompleteStructured asks for a JSON object and decodes it into result.
// A response that is not valid JSON for the result shape fails with
// out.ErrSchemaViolation and is not retried.
func (c *Client) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, result any) error {
	raw, err := c.completeJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}

	if err := decodeStrict(raw, result); err != nil {
		return fmt.Errorf("%w: %v", out.ErrSchemaViolation, err)
	}
	return nil
}

func (c *Client) completeJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var content string

	call := func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				MaxTokens:   c.maxTokens,
				Temperature: c.temperature,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				ResponseFormat: &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONObject,
				},
			})
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return errors.New("empty completion response")
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
	}

	if err := c.retry.Do(ctx, call); err != nil {
		return "", err
	}
	return content, nil
}

// CompleteWithSystem returns a plain text completion.
func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var content string

	call := func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				MaxTokens:   c.maxTokens,
				Temperature: c.temperature,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
			})
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return errors.New("empty completion response")
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
	}

	if err := c.retry.Do(ctx, call); err != nil {
		return "", err
	}
	return content, nil
}

// Summarize produces a 1-3 sentence summary of one email.
func (c *Client) Summarize(ctx context.Context, subject, body string) (string, error) {
	systemPrompt := `You are an email summarization AI. Create a brief, clear summary of the email.
Keep the summary to 1-3 sentences. Focus on the main point and any action items.`

	userPrompt := fmt.Sprintf("Subject: %s\n\nBody:\n%s", subject, truncateBody(body, 3000))

	return c.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}

// decodeStrict decodes JSON rejecting trailing garbage. Models sometimes
// wrap the object in a markdown fence even in JSON mode; strip it first.
func decodeStrict(raw string, result any) error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return errors.New("empty response body")
	}
	return json.Unmarshal([]byte(raw), result)
}

// truncateBody cuts the body on a rune boundary so the prompt stays valid
// UTF-8.
func truncateBody(body string, maxLen int) string {
	if maxLen <= 0 || len(body) <= maxLen {
		return body
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}

// Ensure Client implements the port.
var _ out.LLMClient = (*Client)(nil)
