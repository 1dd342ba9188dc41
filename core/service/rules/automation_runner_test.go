package rules

import (
	"context"
	"testing"

	"automation_server/core/domain"
	"automation_server/core/port/out"
)

func newTestRunner(llm *fakeLLM, provider *fakeProvider, rulesRepo *fakeRuleRepo, plans *fakePlanRepo) *Runner {
	matcher := newTestMatcher(llm, nil, nil)
	return NewRunner(
		&fakeUserRepo{user: testUser()},
		rulesRepo,
		plans,
		&fakeProviderFactory{provider: provider},
		matcher,
		NewResolver(llm, 500),
		NewExecutor(llm),
	)
}

func automatedArchiveRule() *domain.Rule {
	return &domain.Rule{
		ID: 1, UserID: testUserID,
		Name: "archive invoices", Type: domain.RuleTypeStatic,
		Subject: strptr("invoice"), Automate: true,
		Actions: []*domain.Action{{Type: domain.ActionArchive}},
	}
}

func TestRunRulesAutomatedEndToEnd(t *testing.T) {
	provider := newFakeProvider()
	provider.messages["msg-1"] = testEmail()
	plans := newFakePlanRepo()
	rulesRepo := &fakeRuleRepo{rules: []*domain.Rule{automatedArchiveRule()}}
	r := newTestRunner(&fakeLLM{}, provider, rulesRepo, plans)

	result, err := r.RunRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched || !result.Executed {
		t.Fatalf("result = %+v, want matched and executed", result)
	}
	if result.Plan.Status != domain.ExecutedRuleApproved {
		t.Errorf("status = %s, want APPROVED", result.Plan.Status)
	}
	if !result.Plan.Automated {
		t.Error("plan should be flagged automated")
	}
	if result.Plan.ExecutedAt == nil {
		t.Error("plan should be marked executed")
	}
	if len(provider.modifications) != 1 {
		t.Errorf("modifications = %d, want 1", len(provider.modifications))
	}
}

func TestRunRulesManualRuleCreatesPendingPlan(t *testing.T) {
	provider := newFakeProvider()
	provider.messages["msg-1"] = testEmail()
	plans := newFakePlanRepo()
	rule := automatedArchiveRule()
	rule.Automate = false
	rulesRepo := &fakeRuleRepo{rules: []*domain.Rule{rule}}
	r := newTestRunner(&fakeLLM{}, provider, rulesRepo, plans)

	result, err := r.RunRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched || result.Executed {
		t.Fatalf("result = %+v, want matched and not executed", result)
	}
	if result.Plan.Status != domain.ExecutedRulePending {
		t.Errorf("status = %s, want PENDING", result.Plan.Status)
	}
	if len(provider.modifications)+len(provider.sent)+len(provider.drafts) != 0 {
		t.Error("manual rule must not touch the mailbox before approval")
	}
}

func TestRunRulesNoRules(t *testing.T) {
	provider := newFakeProvider()
	provider.messages["msg-1"] = testEmail()
	llm := &fakeLLM{}
	r := newTestRunner(llm, provider, &fakeRuleRepo{}, newFakePlanRepo())

	result, err := r.RunRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched {
		t.Fatal("expected no match")
	}
	if result.Reason != NoRulesReason {
		t.Errorf("reason = %q, want %q", result.Reason, NoRulesReason)
	}
	if llm.calls != 0 {
		t.Errorf("LLM called %d times, want 0", llm.calls)
	}
}

func TestRunRulesExistingPlanSkips(t *testing.T) {
	provider := newFakeProvider()
	provider.messages["msg-1"] = testEmail()
	plans := newFakePlanRepo()
	plans.plans[planKey("thread-1", "msg-1")] = &domain.ExecutedRule{
		ID: 99, UserID: testUserID, ThreadID: "thread-1", MessageID: "msg-1",
		Status: domain.ExecutedRulePending,
	}
	rulesRepo := &fakeRuleRepo{rules: []*domain.Rule{automatedArchiveRule()}}
	r := newTestRunner(&fakeLLM{}, provider, rulesRepo, plans)

	result, err := r.RunRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped {
		t.Fatal("expected skip for existing plan")
	}
	if len(provider.modifications) != 0 {
		t.Error("no mailbox writes when skipping")
	}
}

func TestRunRulesDuplicateInsertLosesRace(t *testing.T) {
	provider := newFakeProvider()
	provider.messages["msg-1"] = testEmail()
	plans := newFakePlanRepo()
	rulesRepo := &fakeRuleRepo{rules: []*domain.Rule{automatedArchiveRule()}}
	r := newTestRunner(&fakeLLM{}, provider, rulesRepo, plans)

	// A concurrent run wins between the dedup check and the insert: the
	// check misses, the insert collides.
	plans.plans[planKey("thread-1", "msg-1")] = &domain.ExecutedRule{
		ID: 50, UserID: testUserID, ThreadID: "thread-1", MessageID: "msg-1",
	}
	plans.missOnGet = true

	result, err := r.RunRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped {
		t.Fatal("loser must skip without error")
	}
	if len(provider.modifications) != 0 {
		t.Error("loser must not write to the mailbox")
	}
}

func TestRunRulesMessageGoneSkips(t *testing.T) {
	provider := newFakeProvider()
	rulesRepo := &fakeRuleRepo{rules: []*domain.Rule{automatedArchiveRule()}}
	r := newTestRunner(&fakeLLM{}, provider, rulesRepo, newFakePlanRepo())

	result, err := r.RunRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("a deleted message should not be an error: %v", err)
	}
	if !result.Skipped {
		t.Fatal("expected skip for missing message")
	}
}

func TestRunRulesPartialActionFailureRecorded(t *testing.T) {
	provider := newFakeProvider()
	provider.messages["msg-1"] = testEmail()
	provider.failNext = &out.ProviderError{
		Kind: out.ProviderErrorTransient, Op: "modify labels",
		Err: context.DeadlineExceeded,
	}
	plans := newFakePlanRepo()
	rule := automatedArchiveRule()
	rule.Actions = append(rule.Actions, &domain.Action{Type: domain.ActionLabel, Position: 1,
		Label: domain.Literal("Receipts")})
	rulesRepo := &fakeRuleRepo{rules: []*domain.Rule{rule}}
	r := newTestRunner(&fakeLLM{}, provider, rulesRepo, plans)

	result, err := r.RunRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Executed {
		t.Fatal("plan should still execute")
	}
	if result.Plan.ActionItems[0].Error == nil {
		t.Error("first item should carry the failure")
	}
	if result.Plan.ActionItems[1].Error != nil {
		t.Errorf("second item should have run clean, got %v", *result.Plan.ActionItems[1].Error)
	}
	if result.Plan.ExecutedAt == nil {
		t.Error("partially failed plans are still consumed")
	}
}

func TestRunRulesAIFieldsResolvedIntoPlan(t *testing.T) {
	provider := newFakeProvider()
	provider.messages["msg-1"] = testEmail()
	plans := newFakePlanRepo()
	rule := &domain.Rule{
		ID: 2, UserID: testUserID,
		Name: "draft replies", Type: domain.RuleTypeStatic,
		Subject: strptr("invoice"), Automate: false,
		Actions: []*domain.Action{{
			Type:    domain.ActionDraftEmail,
			Content: domain.GenerateAtRuntime(),
		}},
	}
	llm := &fakeLLM{responses: []fakeLLMResponse{
		{payload: `{"content": "Thanks, we received the invoice."}`},
	}}
	rulesRepo := &fakeRuleRepo{rules: []*domain.Rule{rule}}
	r := newTestRunner(llm, provider, rulesRepo, plans)

	result, err := r.RunRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched {
		t.Fatal("expected match")
	}
	item := result.Plan.ActionItems[0]
	if item.Content != "Thanks, we received the invoice." {
		t.Errorf("content = %q", item.Content)
	}
	if llm.calls != 1 {
		t.Errorf("LLM calls = %d, want 1", llm.calls)
	}
}

func TestTestRulesDryRun(t *testing.T) {
	provider := newFakeProvider()
	provider.messages["msg-1"] = testEmail()
	plans := newFakePlanRepo()
	rulesRepo := &fakeRuleRepo{rules: []*domain.Rule{automatedArchiveRule()}}
	r := newTestRunner(&fakeLLM{}, provider, rulesRepo, plans)

	result, err := r.TestRules(context.Background(), testUserID, "thread-1", "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched {
		t.Fatal("expected match")
	}
	if len(result.Actions) != 1 {
		t.Fatalf("actions = %d", len(result.Actions))
	}
	if len(plans.plans) != 0 {
		t.Error("dry run must not persist a plan")
	}
	if len(provider.modifications)+len(provider.sent)+len(provider.drafts) != 0 {
		t.Error("dry run must not touch the mailbox")
	}
}
