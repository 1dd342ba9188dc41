package rules

import (
	"context"
	"fmt"
	"strings"

	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/logger"
)

// NoRulesReason is the no-match reason for an empty rule set.
const NoRulesReason = "No rules"

// MatchResult is the matcher's verdict: at most one applicable rule.
type MatchResult struct {
	Rule   *domain.Rule `json:"rule,omitempty"`
	Reason string       `json:"reason"`
}

// Matched reports whether a rule was selected.
func (r *MatchResult) Matched() bool { return r.Rule != nil }

// Matcher selects the single applicable rule for one email. Tiers run in
// fixed order (STATIC, GROUP, CATEGORY, AI) and the first tier with a hit
// wins; within a tier the rule list order is stable. The first three tiers
// are pure functions of the email and preloaded rule configuration; only the
// last tier calls the LLM.
type Matcher struct {
	groupRepo    domain.GroupRepository
	categoryRepo domain.SenderCategoryRepository
	llm          out.LLMClient
	bodyMaxChars int
	log          *logger.Logger
}

// NewMatcher creates a matcher. bodyMaxChars bounds the email rendering sent
// to the LLM.
func NewMatcher(groupRepo domain.GroupRepository, categoryRepo domain.SenderCategoryRepository, llm out.LLMClient, bodyMaxChars int) *Matcher {
	if bodyMaxChars <= 0 {
		bodyMaxChars = 500
	}
	return &Matcher{
		groupRepo:    groupRepo,
		categoryRepo: categoryRepo,
		llm:          llm,
		bodyMaxChars: bodyMaxChars,
		log:          logger.WithField("component", "rule-matcher"),
	}
}

// Match evaluates the rule set against one email. An empty set yields an
// immediate no-match without any LLM call. Thread emails only consider rules
// with RunOnThreads set.
func (m *Matcher) Match(ctx context.Context, email *domain.EmailMessage, allRules []*domain.Rule, user *domain.User, isThread bool) (*MatchResult, error) {
	candidates := make([]*domain.Rule, 0, len(allRules))
	for _, rule := range allRules {
		if isThread && !rule.RunOnThreads {
			continue
		}
		candidates = append(candidates, rule)
	}

	if len(candidates) == 0 {
		return &MatchResult{Reason: NoRulesReason}, nil
	}

	m.warnAmbiguousTiers(candidates)

	// Preload everything tiers 1-3 need, so their evaluation stays pure.
	groups, err := m.loadGroups(ctx, candidates)
	if err != nil {
		return nil, err
	}
	senderCategory := m.loadSenderCategory(ctx, email, user, candidates)

	// Tier 1: STATIC
	for _, rule := range candidates {
		if rule.Type == domain.RuleTypeStatic && matchStatic(rule, email) {
			return &MatchResult{
				Rule:   rule,
				Reason: fmt.Sprintf("Matched static conditions of rule %q", rule.Name),
			}, nil
		}
	}

	// Tier 2: GROUP
	for _, rule := range candidates {
		if rule.Type != domain.RuleTypeGroup || rule.GroupID == nil {
			continue
		}
		group, ok := groups[*rule.GroupID]
		if !ok {
			continue
		}
		if item := matchGroup(group, email); item != nil {
			return &MatchResult{
				Rule:   rule,
				Reason: fmt.Sprintf("Sender matched group %q item %q", group.Name, item.Value),
			}, nil
		}
	}

	// Tier 3: CATEGORY
	if senderCategory != "" {
		for _, rule := range candidates {
			if rule.Type != domain.RuleTypeCategory || rule.Category == nil {
				continue
			}
			if strings.EqualFold(*rule.Category, senderCategory) {
				return &MatchResult{
					Rule:   rule,
					Reason: fmt.Sprintf("Sender category is %q", senderCategory),
				}, nil
			}
		}
	}

	// Tier 4: AI
	aiCandidates := make([]*domain.Rule, 0, len(candidates))
	for _, rule := range candidates {
		if rule.Type == domain.RuleTypeAI && rule.Instructions != "" {
			aiCandidates = append(aiCandidates, rule)
		}
	}
	if len(aiCandidates) == 0 {
		return &MatchResult{Reason: "No deterministic rule matched and no AI rules configured"}, nil
	}

	return m.chooseRuleWithAI(ctx, email, aiCandidates, user)
}

// matchStatic checks every configured condition case-insensitively as a
// substring of the corresponding header. A rule without conditions never
// matches at this tier.
func matchStatic(rule *domain.Rule, email *domain.EmailMessage) bool {
	if !rule.HasStaticConditions() {
		return false
	}
	if rule.From != nil && !containsFold(email.From, *rule.From) {
		return false
	}
	if rule.To != nil && !containsFold(email.To, *rule.To) {
		return false
	}
	if rule.Subject != nil && !containsFold(email.Subject, *rule.Subject) {
		return false
	}
	return true
}

// matchGroup returns the first group item the email satisfies, or nil.
func matchGroup(group *domain.Group, email *domain.EmailMessage) *domain.GroupItem {
	sender := email.SenderAddress()
	for _, item := range group.Items {
		switch item.Type {
		case domain.GroupItemFrom:
			if strings.EqualFold(sender, item.Value) || containsFold(sender, item.Value) {
				return item
			}
		case domain.GroupItemSubject:
			if containsFold(email.Subject, item.Value) {
				return item
			}
		}
	}
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// loadGroups fetches each referenced group once. A missing group disables
// that rule for this evaluation rather than failing the pipeline.
func (m *Matcher) loadGroups(ctx context.Context, candidates []*domain.Rule) (map[int64]*domain.Group, error) {
	groups := make(map[int64]*domain.Group)
	if m.groupRepo == nil {
		return groups, nil
	}
	for _, rule := range candidates {
		if rule.Type != domain.RuleTypeGroup || rule.GroupID == nil {
			continue
		}
		if _, seen := groups[*rule.GroupID]; seen {
			continue
		}
		group, err := m.groupRepo.GetByID(ctx, *rule.GroupID)
		if err != nil {
			m.log.WithError(err).Warn("Failed to load group %d for rule %q", *rule.GroupID, rule.Name)
			continue
		}
		groups[*rule.GroupID] = group
	}
	return groups, nil
}

// loadSenderCategory fetches the sender's persisted category when any
// CATEGORY rule is present.
func (m *Matcher) loadSenderCategory(ctx context.Context, email *domain.EmailMessage, user *domain.User, candidates []*domain.Rule) string {
	if m.categoryRepo == nil {
		return ""
	}
	hasCategoryRule := false
	for _, rule := range candidates {
		if rule.Type == domain.RuleTypeCategory {
			hasCategoryRule = true
			break
		}
	}
	if !hasCategoryRule {
		return ""
	}

	sc, err := m.categoryRepo.GetBySender(ctx, user.ID, strings.ToLower(email.SenderAddress()))
	if err != nil || sc == nil {
		return ""
	}
	return sc.Category
}

// warnAmbiguousTiers logs rules whose configuration satisfies more than the
// tier their type assigns them to.
func (m *Matcher) warnAmbiguousTiers(candidates []*domain.Rule) {
	for _, rule := range candidates {
		tiers := rule.EligibleTiers()
		if len(tiers) <= 1 {
			continue
		}
		extra := false
		for _, tier := range tiers {
			if tier != rule.Type && rule.Type != domain.RuleTypeAI {
				extra = true
			}
		}
		if extra {
			m.log.Warn("Rule %q (type %s) is eligible for multiple tiers %v; fixed tier order applies", rule.Name, rule.Type, tiers)
		}
	}
}
