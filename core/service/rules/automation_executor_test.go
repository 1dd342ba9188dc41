package rules

import (
	"context"
	"errors"
	"strings"
	"testing"

	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/apperr"
)

func TestExecuteArchive(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionArchive},
	})

	if !outcomes[0].Succeeded() {
		t.Fatalf("archive failed: %v", outcomes[0].Err)
	}
	if len(provider.modifications) != 1 {
		t.Fatalf("modifications = %d, want 1", len(provider.modifications))
	}
	mod := provider.modifications[0]
	if mod.threadID != "thread-1" {
		t.Errorf("threadID = %q", mod.threadID)
	}
	if len(mod.mod.Remove) != 1 || mod.mod.Remove[0] != out.LabelInbox {
		t.Errorf("remove = %v, want [INBOX]", mod.mod.Remove)
	}
}

func TestExecuteLabelResolvesName(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionLabel, Label: "Receipts"},
	})

	if !outcomes[0].Succeeded() {
		t.Fatalf("label failed: %v", outcomes[0].Err)
	}
	mod := provider.modifications[0]
	if len(mod.mod.Add) != 1 || mod.mod.Add[0] != "Label_Receipts" {
		t.Errorf("add = %v, want the resolved label id", mod.mod.Add)
	}
}

func TestExecuteLabelEmptyNameFailsValidation(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionLabel, Label: ""},
	})

	if outcomes[0].Succeeded() {
		t.Fatal("expected validation failure for empty label")
	}
	if !apperr.IsCode(outcomes[0].Err, apperr.CodeMissingField) {
		t.Errorf("err = %v, want missing field", outcomes[0].Err)
	}
	if len(provider.modifications) != 0 {
		t.Error("provider must not be called for an invalid action")
	}
}

func TestExecuteMarkSpam(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionMarkSpam},
	})

	if !outcomes[0].Succeeded() {
		t.Fatalf("mark spam failed: %v", outcomes[0].Err)
	}
	mod := provider.modifications[0].mod
	if len(mod.Add) != 1 || mod.Add[0] != out.LabelSpam {
		t.Errorf("add = %v, want [SPAM]", mod.Add)
	}
	if len(mod.Remove) != 1 || mod.Remove[0] != out.LabelInbox {
		t.Errorf("remove = %v, want [INBOX]", mod.Remove)
	}
}

func TestExecuteReplyThreading(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})
	email := testEmail()
	email.ReplyTo = "billing@example.com"
	email.References = "<root@mail.example.com>"

	outcomes := e.Execute(context.Background(), provider, email, []*ResolvedAction{
		{Type: domain.ActionReply, Content: "Thanks, received."},
	})

	if !outcomes[0].Succeeded() {
		t.Fatalf("reply failed: %v", outcomes[0].Err)
	}
	req := provider.sent[0]
	if req.To != "billing@example.com" {
		t.Errorf("to = %q, want the Reply-To address", req.To)
	}
	if req.Subject != "Re: Quarterly invoice" {
		t.Errorf("subject = %q", req.Subject)
	}
	if req.ThreadID != "thread-1" {
		t.Errorf("threadID = %q", req.ThreadID)
	}
	if req.InReplyTo != "<abc@mail.example.com>" {
		t.Errorf("inReplyTo = %q", req.InReplyTo)
	}
	if req.References != "<root@mail.example.com> <abc@mail.example.com>" {
		t.Errorf("references = %q", req.References)
	}
}

func TestExecuteForwardAlwaysQuotesOriginal(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionForward, To: "bob@example.com", Content: "FYI"},
	})

	if !outcomes[0].Succeeded() {
		t.Fatalf("forward failed: %v", outcomes[0].Err)
	}
	req := provider.sent[0]
	if req.Subject != "Fwd: Quarterly invoice" {
		t.Errorf("subject = %q", req.Subject)
	}
	for _, want := range []string{
		"---------- Forwarded message ----------",
		"From: Alice <alice@example.com>",
		"Subject: Quarterly invoice",
		"Please find attached the invoice for Q2.",
	} {
		if !strings.Contains(req.Body, want) {
			t.Errorf("body missing %q:\n%s", want, req.Body)
		}
	}
	if !strings.HasPrefix(req.Body, "FYI") {
		t.Errorf("generated note should precede the quote:\n%s", req.Body)
	}
}

func TestExecuteDraftFallsBackToReplyRecipient(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionDraftEmail, Content: "Draft body"},
	})

	if !outcomes[0].Succeeded() {
		t.Fatalf("draft failed: %v", outcomes[0].Err)
	}
	if provider.drafts[0].To != "Alice <alice@example.com>" {
		t.Errorf("to = %q, want sender fallback", provider.drafts[0].To)
	}
}

func TestExecuteSummarize(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionSummarize},
	})

	if !outcomes[0].Succeeded() {
		t.Fatalf("summarize failed: %v", outcomes[0].Err)
	}
	if outcomes[0].Summary == "" {
		t.Error("expected a summary")
	}
	if len(provider.sent)+len(provider.drafts)+len(provider.modifications) != 0 {
		t.Error("summarize must not write to the provider")
	}
}

func TestExecutePartialFailureContinues(t *testing.T) {
	provider := newFakeProvider()
	provider.failNext = &out.ProviderError{
		Kind: out.ProviderErrorTransient, Op: "modify labels", Err: errors.New("rate limited"),
	}
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionArchive},
		{Type: domain.ActionLabel, Label: "Receipts"},
	})

	if outcomes[0].Succeeded() {
		t.Fatal("first action should have failed")
	}
	if !outcomes[1].Succeeded() {
		t.Fatalf("second action should still run: %v", outcomes[1].Err)
	}
}

func TestExecuteResolutionErrorSkipsProvider(t *testing.T) {
	provider := newFakeProvider()
	e := NewExecutor(&fakeLLM{})

	outcomes := e.Execute(context.Background(), provider, testEmail(), []*ResolvedAction{
		{Type: domain.ActionReply, Err: errors.New("generation failed")},
	})

	if outcomes[0].Succeeded() {
		t.Fatal("expected the carried resolution error")
	}
	if len(provider.sent) != 0 {
		t.Error("provider must not be called for an unresolved action")
	}
}
