package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/apperr"
)

// ruleChoice is the structured response the LLM must produce for rule
// selection. Rule is a 1-based index into the numbered candidate list; the
// index one past the end means "none apply".
type ruleChoice struct {
	Reason string `json:"reason"`
	Rule   int    `json:"rule"`
}

const chooseRuleSystemPrompt = `You are an AI assistant that helps people manage their emails.

IMPORTANT: Do not decide to apply a rule if the user explicitly states a condition and that condition is not met.
If no rule matches, choose the last option: "None of the above".

Respond with JSON: {"reason": "<why this rule applies or none do>", "rule": <number>}`

// chooseRuleWithAI asks the LLM to pick one of the candidate AI rules. Candidates
// must be non-empty; the caller short-circuits the empty case without
// spending an LLM call.
func (m *Matcher) chooseRuleWithAI(ctx context.Context, email *domain.EmailMessage, candidates []*domain.Rule, user *domain.User) (*MatchResult, error) {
	userPrompt := m.buildChoosePrompt(email, candidates, user)

	var choice ruleChoice
	if err := m.llm.CompleteStructured(ctx, chooseRuleSystemPrompt, userPrompt, &choice); err != nil {
		if errors.Is(err, out.ErrSchemaViolation) {
			return nil, apperr.SchemaMismatch("choose rule", err)
		}
		return nil, fmt.Errorf("choose rule: %w", err)
	}

	noneIndex := len(candidates) + 1
	switch {
	case choice.Rule == noneIndex:
		reason := choice.Reason
		if reason == "" {
			reason = "AI decided no rule applies"
		}
		return &MatchResult{Reason: reason}, nil
	case choice.Rule >= 1 && choice.Rule <= len(candidates):
		rule := candidates[choice.Rule-1]
		reason := choice.Reason
		if reason == "" {
			reason = fmt.Sprintf("AI selected rule %q", rule.Name)
		}
		return &MatchResult{Rule: rule, Reason: reason}, nil
	default:
		return nil, apperr.SchemaMismatch("choose rule",
			fmt.Errorf("rule index %d out of range 1..%d", choice.Rule, noneIndex))
	}
}

// buildChoosePrompt numbers the candidate instructions, appends the "none"
// option, and renders the email.
func (m *Matcher) buildChoosePrompt(email *domain.EmailMessage, candidates []*domain.Rule, user *domain.User) string {
	var sb strings.Builder

	sb.WriteString("Select one of these rules:\n\n")
	for i, rule := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, rule.Instructions)
	}
	fmt.Fprintf(&sb, "%d. None of the above\n", len(candidates)+1)

	if user != nil && user.About != nil && *user.About != "" {
		sb.WriteString("\nAbout the user:\n")
		sb.WriteString(*user.About)
		sb.WriteString("\n")
	}

	sb.WriteString("\nThe email:\n\n")
	sb.WriteString(stringifyEmail(email, m.bodyMaxChars))

	return sb.String()
}
