package rules

import (
	"context"
	"testing"

	"automation_server/core/domain"
)

func newTestMatcher(llm *fakeLLM, groups map[int64]*domain.Group, categories map[string]string) *Matcher {
	return NewMatcher(
		&fakeGroupRepo{groups: groups},
		&fakeCategoryRepo{categories: categories},
		llm,
		500,
	)
}

func TestMatchEmptyRulesSkipsLLM(t *testing.T) {
	llm := &fakeLLM{}
	m := newTestMatcher(llm, nil, nil)

	result, err := m.Match(context.Background(), testEmail(), nil, testUser(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched() {
		t.Fatal("expected no match for empty rule set")
	}
	if result.Reason != NoRulesReason {
		t.Errorf("reason = %q, want %q", result.Reason, NoRulesReason)
	}
	if llm.calls != 0 {
		t.Errorf("LLM called %d times, want 0", llm.calls)
	}
}

func TestMatchStaticTier(t *testing.T) {
	tests := []struct {
		name  string
		rule  *domain.Rule
		match bool
	}{
		{
			name: "from substring case-insensitive",
			rule: &domain.Rule{
				Name: "invoices", Type: domain.RuleTypeStatic,
				From: strptr("ALICE@example.com"),
			},
			match: true,
		},
		{
			name: "subject substring",
			rule: &domain.Rule{
				Name: "invoices", Type: domain.RuleTypeStatic,
				Subject: strptr("invoice"),
			},
			match: true,
		},
		{
			name: "all conditions must hold",
			rule: &domain.Rule{
				Name: "strict", Type: domain.RuleTypeStatic,
				From: strptr("alice"), Subject: strptr("refund"),
			},
			match: false,
		},
		{
			name: "no conditions never matches",
			rule: &domain.Rule{
				Name: "empty static", Type: domain.RuleTypeStatic,
			},
			match: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{}
			m := newTestMatcher(llm, nil, nil)

			result, err := m.Match(context.Background(), testEmail(), []*domain.Rule{tt.rule}, testUser(), false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Matched() != tt.match {
				t.Errorf("matched = %v, want %v (reason %q)", result.Matched(), tt.match, result.Reason)
			}
			if llm.calls != 0 {
				t.Errorf("LLM called %d times, want 0", llm.calls)
			}
		})
	}
}

func TestMatchGroupTier(t *testing.T) {
	groups := map[int64]*domain.Group{
		7: {
			ID: 7, Name: "Vendors",
			Items: []*domain.GroupItem{
				{Type: domain.GroupItemFrom, Value: "alice@example.com"},
			},
		},
	}
	groupID := int64(7)
	rule := &domain.Rule{
		Name: "vendor mail", Type: domain.RuleTypeGroup, GroupID: &groupID,
	}

	m := newTestMatcher(&fakeLLM{}, groups, nil)
	result, err := m.Match(context.Background(), testEmail(), []*domain.Rule{rule}, testUser(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched() {
		t.Fatalf("expected group match, got reason %q", result.Reason)
	}
	if result.Rule.Name != "vendor mail" {
		t.Errorf("matched rule %q", result.Rule.Name)
	}
}

func TestMatchCategoryTier(t *testing.T) {
	rule := &domain.Rule{
		Name: "receipts", Type: domain.RuleTypeCategory,
		Category: strptr(domain.CategoryReceipt),
	}
	categories := map[string]string{"alice@example.com": domain.CategoryReceipt}

	m := newTestMatcher(&fakeLLM{}, nil, categories)
	result, err := m.Match(context.Background(), testEmail(), []*domain.Rule{rule}, testUser(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched() {
		t.Fatalf("expected category match, got reason %q", result.Reason)
	}
}

func TestMatchTierOrderStaticBeatsAI(t *testing.T) {
	staticRule := &domain.Rule{
		Name: "static wins", Type: domain.RuleTypeStatic,
		Subject: strptr("invoice"),
	}
	aiRule := &domain.Rule{
		Name: "ai rule", Type: domain.RuleTypeAI,
		Instructions: "Emails about invoices",
	}

	llm := &fakeLLM{}
	m := newTestMatcher(llm, nil, nil)

	// AI rule listed first; the static tier still runs first.
	result, err := m.Match(context.Background(), testEmail(), []*domain.Rule{aiRule, staticRule}, testUser(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched() || result.Rule.Name != "static wins" {
		t.Fatalf("expected static rule to win, got %+v", result)
	}
	if llm.calls != 0 {
		t.Errorf("LLM called %d times, want 0", llm.calls)
	}
}

func TestMatchAITier(t *testing.T) {
	rules := []*domain.Rule{
		{Name: "newsletters", Type: domain.RuleTypeAI, Instructions: "Newsletters and digests"},
		{Name: "billing", Type: domain.RuleTypeAI, Instructions: "Invoices and billing questions"},
	}

	t.Run("selects rule by index", func(t *testing.T) {
		llm := &fakeLLM{responses: []fakeLLMResponse{
			{payload: `{"reason": "This is a billing email", "rule": 2}`},
		}}
		m := newTestMatcher(llm, nil, nil)

		result, err := m.Match(context.Background(), testEmail(), rules, testUser(), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Matched() || result.Rule.Name != "billing" {
			t.Fatalf("expected billing rule, got %+v", result)
		}
		if result.Reason != "This is a billing email" {
			t.Errorf("reason = %q", result.Reason)
		}
	})

	t.Run("none-of-the-above index yields no match", func(t *testing.T) {
		llm := &fakeLLM{responses: []fakeLLMResponse{
			{payload: `{"reason": "Nothing applies", "rule": 3}`},
		}}
		m := newTestMatcher(llm, nil, nil)

		result, err := m.Match(context.Background(), testEmail(), rules, testUser(), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Matched() {
			t.Fatalf("expected no match, got rule %q", result.Rule.Name)
		}
		if result.Reason != "Nothing applies" {
			t.Errorf("reason = %q", result.Reason)
		}
	})

	t.Run("out of range index is a schema error", func(t *testing.T) {
		llm := &fakeLLM{responses: []fakeLLMResponse{
			{payload: `{"reason": "??", "rule": 9}`},
		}}
		m := newTestMatcher(llm, nil, nil)

		_, err := m.Match(context.Background(), testEmail(), rules, testUser(), false)
		if err == nil {
			t.Fatal("expected error for out-of-range index")
		}
	})
}

func TestMatchThreadFiltersRules(t *testing.T) {
	rule := &domain.Rule{
		Name: "first contact only", Type: domain.RuleTypeStatic,
		Subject: strptr("invoice"), RunOnThreads: false,
	}

	m := newTestMatcher(&fakeLLM{}, nil, nil)
	result, err := m.Match(context.Background(), testEmail(), []*domain.Rule{rule}, testUser(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched() {
		t.Fatal("rule without RunOnThreads must not apply to thread replies")
	}
	if result.Reason != NoRulesReason {
		t.Errorf("reason = %q, want %q", result.Reason, NoRulesReason)
	}
}
