package llm

import (
	"errors"
	"testing"
	"unicode/utf8"

	"automation_server/core/port/out"
)

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxLen   int
		expected string
	}{
		{
			name:     "short body",
			body:     "Hello world",
			maxLen:   100,
			expected: "Hello world",
		},
		{
			name:     "exact length",
			body:     "Hello",
			maxLen:   5,
			expected: "Hello",
		},
		{
			name:     "truncated",
			body:     "Hello world, this is a long message",
			maxLen:   10,
			expected: "Hello worl...",
		},
		{
			name:     "empty body",
			body:     "",
			maxLen:   100,
			expected: "",
		},
		{
			name:     "cut inside a two byte rune backs off",
			body:     "héllo",
			maxLen:   2,
			expected: "h...",
		},
		{
			name:     "cut inside a three byte rune backs off",
			body:     "日本語",
			maxLen:   4,
			expected: "日...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateBody(tt.body, tt.maxLen)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
			if !utf8.ValidString(result) {
				t.Errorf("result %q is not valid UTF-8", result)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	type choice struct {
		Rule   int    `json:"rule"`
		Reason string `json:"reason"`
	}

	tests := []struct {
		name     string
		raw      string
		wantRule int
		wantErr  bool
	}{
		{
			name:     "plain object",
			raw:      `{"rule": 2, "reason": "matches receipts"}`,
			wantRule: 2,
		},
		{
			name:     "markdown fenced",
			raw:      "```json\n{\"rule\": 1, \"reason\": \"ok\"}\n```",
			wantRule: 1,
		},
		{
			name:    "empty response",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     "I think rule 2 fits best.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got choice
			err := decodeStrict(tt.raw, &got)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Rule != tt.wantRule {
				t.Errorf("expected rule %d, got %d", tt.wantRule, got.Rule)
			}
		})
	}
}

func TestSchemaViolationIsNotWrappedAsTransient(t *testing.T) {
	err := errors.Join(out.ErrSchemaViolation, errors.New("unexpected field"))
	if isTransientAPIError(err) {
		t.Error("schema violations must not be treated as retryable")
	}
}

func TestNewClientWithConfigDefaults(t *testing.T) {
	c := NewClientWithConfig(ClientConfig{APIKey: "test"})
	if c.model != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, c.model)
	}
	if c.maxTokens != 2048 {
		t.Errorf("expected default max tokens 2048, got %d", c.maxTokens)
	}
	if c.retry == nil || c.breaker == nil {
		t.Error("expected retry policy and circuit breaker to be configured")
	}
}
