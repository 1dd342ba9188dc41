package rules

import (
	"context"
	"fmt"
	"strings"

	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/logger"
)

// ResolvedAction is a fully concrete action: every field is a literal string,
// AI-marked fields having been generated. A non-nil Err means generation for
// this action failed; the action should be persisted with the error and
// skipped by the executor, without aborting its siblings.
type ResolvedAction struct {
	Type     domain.ActionType `json:"type"`
	Position int               `json:"position"`
	Label    string            `json:"label,omitempty"`
	Subject  string            `json:"subject,omitempty"`
	Content  string            `json:"content,omitempty"`
	To       string            `json:"to,omitempty"`
	Cc       string            `json:"cc,omitempty"`
	Bcc      string            `json:"bcc,omitempty"`
	Err      error             `json:"-"`
}

// FieldValue returns the resolved literal for a field.
func (a *ResolvedAction) FieldValue(field domain.ActionField) string {
	switch field {
	case domain.FieldLabel:
		return a.Label
	case domain.FieldSubject:
		return a.Subject
	case domain.FieldContent:
		return a.Content
	case domain.FieldTo:
		return a.To
	case domain.FieldCc:
		return a.Cc
	case domain.FieldBcc:
		return a.Bcc
	}
	return ""
}

func (a *ResolvedAction) setField(field domain.ActionField, value string) {
	switch field {
	case domain.FieldLabel:
		a.Label = value
	case domain.FieldSubject:
		a.Subject = value
	case domain.FieldContent:
		a.Content = value
	case domain.FieldTo:
		a.To = value
	case domain.FieldCc:
		a.Cc = value
	case domain.FieldBcc:
		a.Bcc = value
	}
}

// Resolver turns a matched rule's action templates into concrete actions by
// generating every AI-marked field with one LLM call per action.
type Resolver struct {
	llm          out.LLMClient
	bodyMaxChars int
	log          *logger.Logger
}

// NewResolver creates a resolver.
func NewResolver(llm out.LLMClient, bodyMaxChars int) *Resolver {
	if bodyMaxChars <= 0 {
		bodyMaxChars = 500
	}
	return &Resolver{
		llm:          llm,
		bodyMaxChars: bodyMaxChars,
		log:          logger.WithField("component", "action-resolver"),
	}
}

const resolveActionSystemPrompt = `You are an AI assistant that generates email action arguments.

Generate a value for each requested field based on the rule's intent and the email.
Respond with JSON containing exactly the requested field names as keys and the generated strings as values.
Do not invent extra fields.`

// Resolve produces one ResolvedAction per rule action, preserving order.
// Actions with only literal fields resolve without an LLM call; a generation
// failure is recorded on that action alone.
func (r *Resolver) Resolve(ctx context.Context, rule *domain.Rule, email *domain.EmailMessage, user *domain.User) []*ResolvedAction {
	resolved := make([]*ResolvedAction, 0, len(rule.Actions))
	for i, action := range rule.Actions {
		ra := &ResolvedAction{Type: action.Type, Position: i}
		for _, field := range action.Type.Fields() {
			value := action.FieldValue(field)
			if !value.IsAI() {
				ra.setField(field, value.Literal)
			}
		}

		aiFields := action.AIFields()
		if len(aiFields) == 0 {
			resolved = append(resolved, ra)
			continue
		}

		generated, err := r.generateFields(ctx, rule, action, aiFields, email, user)
		if err != nil {
			r.log.WithError(err).Error("Failed to generate fields for %s action of rule %q", action.Type, rule.Name)
			ra.Err = fmt.Errorf("generate %s fields: %w", action.Type, err)
			resolved = append(resolved, ra)
			continue
		}
		for _, field := range aiFields {
			ra.setField(field, generated[string(field)])
		}
		resolved = append(resolved, ra)
	}
	return resolved
}

// generateFields asks for all of one action's AI fields in a single call.
func (r *Resolver) generateFields(ctx context.Context, rule *domain.Rule, action *domain.Action, fields []domain.ActionField, email *domain.EmailMessage, user *domain.User) (map[string]string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Action type: %s\n\n", action.Type)
	sb.WriteString("Rule instructions:\n")
	if rule.Instructions != "" {
		sb.WriteString(rule.Instructions)
	} else {
		sb.WriteString(rule.Name)
	}
	sb.WriteString("\n\nGenerate these fields:\n")
	for _, field := range fields {
		fmt.Fprintf(&sb, "- %s: %s\n", field, domain.FieldDescription(action.Type, field))
	}

	if user != nil && user.About != nil && *user.About != "" {
		sb.WriteString("\nAbout the user:\n")
		sb.WriteString(*user.About)
		sb.WriteString("\n")
	}

	sb.WriteString("\nThe email:\n\n")
	sb.WriteString(stringifyEmail(email, r.bodyMaxChars))

	if action.Type == domain.ActionForward {
		sb.WriteString("\nWhen generating content for a forward, keep it brief and include the quoted original below your note:\n\n")
		sb.WriteString(quoteOriginal(email))
	}

	generated := make(map[string]string)
	if err := r.llm.CompleteStructured(ctx, resolveActionSystemPrompt, sb.String(), &generated); err != nil {
		return nil, err
	}

	for _, field := range fields {
		if _, ok := generated[string(field)]; !ok {
			return nil, fmt.Errorf("%w: missing generated field %q", out.ErrSchemaViolation, field)
		}
	}
	return generated, nil
}
