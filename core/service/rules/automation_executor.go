package rules

import (
	"context"
	"fmt"
	"strings"

	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/apperr"
	"automation_server/pkg/logger"
)

// ActionOutcome records the result of executing one resolved action.
type ActionOutcome struct {
	Type     domain.ActionType `json:"type"`
	Position int               `json:"position"`
	Err      error             `json:"-"`

	// Summary holds the generated text for SUMMARIZE actions.
	Summary string `json:"summary,omitempty"`
	// ProviderID is the message or draft id returned by send/draft actions.
	ProviderID string `json:"provider_id,omitempty"`
}

// Succeeded reports whether the action completed.
func (o *ActionOutcome) Succeeded() bool { return o.Err == nil }

// Executor runs resolved actions against the user's mailbox. Actions run
// sequentially in resolved order; a failing action is recorded and the rest
// still run.
type Executor struct {
	llm out.LLMClient
	log *logger.Logger
}

// NewExecutor creates the action executor.
func NewExecutor(llm out.LLMClient) *Executor {
	return &Executor{
		llm: llm,
		log: logger.WithField("component", "action-executor"),
	}
}

// Execute dispatches every resolved action. Resolution failures carried on
// the action are propagated as that action's outcome without touching the
// provider. Validation of required fields happens here, immediately before
// the provider call would be made.
func (e *Executor) Execute(ctx context.Context, provider out.EmailProvider, email *domain.EmailMessage, actions []*ResolvedAction) []*ActionOutcome {
	outcomes := make([]*ActionOutcome, 0, len(actions))
	for _, action := range actions {
		outcome := &ActionOutcome{Type: action.Type, Position: action.Position}
		if action.Err != nil {
			outcome.Err = action.Err
		} else if err := validateRequired(action); err != nil {
			outcome.Err = err
		} else {
			e.run(ctx, provider, email, action, outcome)
		}

		if outcome.Err != nil {
			e.log.WithError(outcome.Err).Error("Action %s at position %d failed", action.Type, action.Position)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// validateRequired rejects actions whose mandatory fields resolved to empty.
func validateRequired(action *ResolvedAction) error {
	for _, field := range action.Type.RequiredFields() {
		if strings.TrimSpace(action.FieldValue(field)) == "" {
			return apperr.MissingField(fmt.Sprintf("%s.%s", action.Type, field))
		}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, provider out.EmailProvider, email *domain.EmailMessage, action *ResolvedAction, outcome *ActionOutcome) {
	var err error
	switch action.Type {
	case domain.ActionArchive:
		err = e.archive(ctx, provider, email)
	case domain.ActionLabel:
		err = e.label(ctx, provider, email, action.Label)
	case domain.ActionDraftEmail:
		outcome.ProviderID, err = e.draft(ctx, provider, email, action)
	case domain.ActionReply:
		outcome.ProviderID, err = e.reply(ctx, provider, email, action)
	case domain.ActionSendEmail:
		outcome.ProviderID, err = e.send(ctx, provider, action)
	case domain.ActionForward:
		outcome.ProviderID, err = e.forward(ctx, provider, email, action)
	case domain.ActionSummarize:
		outcome.Summary, err = e.summarize(ctx, email)
	case domain.ActionMarkSpam:
		err = e.markSpam(ctx, provider, email)
	default:
		err = apperr.ValidationFailed(fmt.Sprintf("unknown action type %q", action.Type))
	}
	outcome.Err = err
}

func (e *Executor) archive(ctx context.Context, provider out.EmailProvider, email *domain.EmailMessage) error {
	return provider.ModifyThreadLabels(ctx, email.ThreadID, &out.LabelModification{
		Remove: []string{out.LabelInbox},
	})
}

func (e *Executor) label(ctx context.Context, provider out.EmailProvider, email *domain.EmailMessage, name string) error {
	labelID, err := provider.GetOrCreateLabel(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve label %q: %w", name, err)
	}
	return provider.ModifyThreadLabels(ctx, email.ThreadID, &out.LabelModification{
		Add: []string{labelID},
	})
}

// draft creates a reply draft on the email's thread. An empty To falls back
// to the reply recipient of the incoming message.
func (e *Executor) draft(ctx context.Context, provider out.EmailProvider, email *domain.EmailMessage, action *ResolvedAction) (string, error) {
	to := action.To
	if to == "" {
		to = email.ReplyRecipient()
	}
	return provider.CreateDraft(ctx, &out.SendRequest{
		To:         to,
		Subject:    replySubject(firstNonEmpty(action.Subject, email.Subject)),
		Body:       action.Content,
		ThreadID:   email.ThreadID,
		InReplyTo:  email.MessageIDHeader,
		References: joinReferences(email),
	})
}

func (e *Executor) reply(ctx context.Context, provider out.EmailProvider, email *domain.EmailMessage, action *ResolvedAction) (string, error) {
	return provider.SendMessage(ctx, &out.SendRequest{
		To:         email.ReplyRecipient(),
		Cc:         action.Cc,
		Bcc:        action.Bcc,
		Subject:    replySubject(email.Subject),
		Body:       action.Content,
		ThreadID:   email.ThreadID,
		InReplyTo:  email.MessageIDHeader,
		References: joinReferences(email),
	})
}

func (e *Executor) send(ctx context.Context, provider out.EmailProvider, action *ResolvedAction) (string, error) {
	return provider.SendMessage(ctx, &out.SendRequest{
		To:      action.To,
		Cc:      action.Cc,
		Bcc:     action.Bcc,
		Subject: action.Subject,
		Body:    action.Content,
	})
}

// forward sends a new message quoting the original. The quoted block is
// appended even when the generated content already alludes to it, so the
// recipient always sees the original headers and body.
func (e *Executor) forward(ctx context.Context, provider out.EmailProvider, email *domain.EmailMessage, action *ResolvedAction) (string, error) {
	body := action.Content
	if body != "" {
		body += "\n\n"
	}
	body += quoteOriginal(email)
	return provider.SendMessage(ctx, &out.SendRequest{
		To:      action.To,
		Cc:      action.Cc,
		Bcc:     action.Bcc,
		Subject: forwardSubject(email.Subject),
		Body:    body,
	})
}

func (e *Executor) summarize(ctx context.Context, email *domain.EmailMessage) (string, error) {
	summary, err := e.llm.Summarize(ctx, email.Subject, email.Content())
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return summary, nil
}

func (e *Executor) markSpam(ctx context.Context, provider out.EmailProvider, email *domain.EmailMessage) error {
	return provider.ModifyThreadLabels(ctx, email.ThreadID, &out.LabelModification{
		Add:    []string{out.LabelSpam},
		Remove: []string{out.LabelInbox},
	})
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func forwardSubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		return subject
	}
	return "Fwd: " + subject
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// joinReferences extends the original References chain with its Message-ID.
func joinReferences(email *domain.EmailMessage) string {
	refs := email.References
	if email.MessageIDHeader == "" {
		return refs
	}
	if refs == "" {
		return email.MessageIDHeader
	}
	return refs + " " + email.MessageIDHeader
}
