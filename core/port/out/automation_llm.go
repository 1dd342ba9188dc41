package out

import (
	"context"
	"errors"
)

// ErrSchemaViolation marks a structured completion whose JSON did not decode
// into the expected result shape. Callers surface it as a model error rather
// than retrying: it usually means the prompt and schema disagree.
var ErrSchemaViolation = errors.New("llm response does not match expected schema")

// LLMClient is the structured completion contract. CompleteStructured asks
// for a JSON object and decodes it into result (a struct pointer whose shape
// is the schema); a response that fails to decode yields ErrSchemaViolation.
type LLMClient interface {
	CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, result any) error

	// Summarize produces a short natural-language summary of one email.
	Summarize(ctx context.Context, subject, body string) (string, error)
}
