package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"automation_server/adapter/out/persistence"
	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/logger"

	"github.com/google/uuid"
)

// RunResult reports one pipeline evaluation of one message.
type RunResult struct {
	Matched  bool                 `json:"matched"`
	Reason   string               `json:"reason"`
	Rule     *domain.Rule         `json:"rule,omitempty"`
	Plan     *domain.ExecutedRule `json:"plan,omitempty"`
	Executed bool                 `json:"executed"`
	Outcomes []*ActionOutcome     `json:"-"`

	// Skipped is set when a plan for the message already existed, either
	// found up front or detected as an insert race.
	Skipped bool `json:"skipped,omitempty"`
}

// TestResult is a dry evaluation: match verdict plus resolved actions, with
// no plan persisted and no provider writes.
type TestResult struct {
	Matched bool              `json:"matched"`
	Reason  string            `json:"reason"`
	Rule    *domain.Rule      `json:"rule,omitempty"`
	Actions []*ResolvedAction `json:"actions,omitempty"`
}

// Runner drives the full pipeline for one incoming message: dedup, match,
// resolve, persist the plan, and execute when the rule automates.
type Runner struct {
	users     domain.UserRepository
	rulesRepo domain.RuleRepository
	plans     domain.ExecutedRuleRepository
	factory   out.ProviderFactory
	matcher   *Matcher
	resolver  *Resolver
	executor  *Executor
	log       *logger.Logger
}

// NewRunner wires the pipeline.
func NewRunner(
	users domain.UserRepository,
	rulesRepo domain.RuleRepository,
	plans domain.ExecutedRuleRepository,
	factory out.ProviderFactory,
	matcher *Matcher,
	resolver *Resolver,
	executor *Executor,
) *Runner {
	return &Runner{
		users:     users,
		rulesRepo: rulesRepo,
		plans:     plans,
		factory:   factory,
		matcher:   matcher,
		resolver:  resolver,
		executor:  executor,
		log:       logger.WithField("component", "rule-runner"),
	}
}

// RunRules evaluates the user's rules against one message. The plan row is
// created before any provider side effect runs, so a concurrent evaluation
// of the same message loses on the duplicate insert and performs no writes.
func (r *Runner) RunRules(ctx context.Context, userID uuid.UUID, threadID, messageID string) (*RunResult, error) {
	if existing, err := r.plans.GetByMessage(ctx, userID, threadID, messageID); err == nil && existing != nil {
		r.log.WithFields(map[string]any{
			"user_id":    userID.String(),
			"message_id": messageID,
		}).Info("Plan already exists, skipping")
		return &RunResult{Skipped: true, Plan: existing, Reason: "already evaluated"}, nil
	} else if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("check existing plan: %w", err)
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	userRules, err := r.rulesRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if len(userRules) == 0 {
		return &RunResult{Reason: NoRulesReason}, nil
	}

	provider, err := r.factory.ProviderForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("provider for user: %w", err)
	}

	email, err := provider.GetMessage(ctx, messageID)
	if err != nil {
		if out.IsNotFound(err) {
			r.log.Warn("Message %s no longer exists, skipping", messageID)
			return &RunResult{Skipped: true, Reason: "message not found"}, nil
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	isThread, err := r.isOngoingThread(ctx, provider, threadID, messageID)
	if err != nil {
		return nil, err
	}

	match, err := r.matcher.Match(ctx, email, userRules, user, isThread)
	if err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	if !match.Matched() {
		return &RunResult{Reason: match.Reason}, nil
	}

	resolved := r.resolver.Resolve(ctx, match.Rule, email, user)

	plan := buildPlan(userID, match, email, resolved)
	if err := r.plans.Create(ctx, plan); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			r.log.Info("Lost plan race for message %s, skipping", messageID)
			return &RunResult{Skipped: true, Reason: "concurrent evaluation won"}, nil
		}
		return nil, fmt.Errorf("create plan: %w", err)
	}

	result := &RunResult{
		Matched: true,
		Reason:  match.Reason,
		Rule:    match.Rule,
		Plan:    plan,
	}

	if !match.Rule.Automate {
		return result, nil
	}

	outcomes := r.executor.Execute(ctx, provider, email, resolved)
	r.recordOutcomes(ctx, plan, outcomes)

	now := time.Now().UTC()
	if err := r.plans.MarkExecuted(ctx, plan.ID, now); err != nil {
		r.log.WithError(err).Error("Failed to mark plan %d executed", plan.ID)
	} else {
		plan.ExecutedAt = &now
	}

	result.Executed = true
	result.Outcomes = outcomes
	return result, nil
}

// TestRules evaluates and resolves without persisting a plan or touching the
// mailbox. Used to preview what a rule set would do to a message.
func (r *Runner) TestRules(ctx context.Context, userID uuid.UUID, threadID, messageID string) (*TestResult, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	userRules, err := r.rulesRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if len(userRules) == 0 {
		return &TestResult{Reason: NoRulesReason}, nil
	}

	provider, err := r.factory.ProviderForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("provider for user: %w", err)
	}

	email, err := provider.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	isThread, err := r.isOngoingThread(ctx, provider, threadID, messageID)
	if err != nil {
		return nil, err
	}

	match, err := r.matcher.Match(ctx, email, userRules, user, isThread)
	if err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	if !match.Matched() {
		return &TestResult{Reason: match.Reason}, nil
	}

	return &TestResult{
		Matched: true,
		Reason:  match.Reason,
		Rule:    match.Rule,
		Actions: r.resolver.Resolve(ctx, match.Rule, email, user),
	}, nil
}

// isOngoingThread reports whether the message continues an existing
// conversation rather than opening one. A thread fetch failure degrades to
// treating the message as a thread opener.
func (r *Runner) isOngoingThread(ctx context.Context, provider out.EmailProvider, threadID, messageID string) (bool, error) {
	if threadID == "" || threadID == messageID {
		return false, nil
	}
	thread, err := provider.GetThread(ctx, threadID)
	if err != nil {
		if out.IsNotFound(err) {
			return false, nil
		}
		r.log.WithError(err).Warn("Failed to fetch thread %s, treating message as thread opener", threadID)
		return false, nil
	}
	return len(thread.Messages) > 1, nil
}

// buildPlan assembles the persisted plan from a match and its resolved
// actions. Resolution errors land on the items so the user sees them when
// reviewing.
func buildPlan(userID uuid.UUID, match *MatchResult, email *domain.EmailMessage, resolved []*ResolvedAction) *domain.ExecutedRule {
	status := domain.ExecutedRulePending
	if match.Rule.Automate {
		status = domain.ExecutedRuleApproved
	}

	plan := &domain.ExecutedRule{
		UserID:    userID,
		RuleID:    &match.Rule.ID,
		ThreadID:  email.ThreadID,
		MessageID: email.ID,
		Status:    status,
		Automated: match.Rule.Automate,
		Reason:    match.Reason,
	}
	for _, action := range resolved {
		item := &domain.ActionItem{
			Type:     action.Type,
			Position: action.Position,
			Label:    action.Label,
			Subject:  action.Subject,
			Content:  action.Content,
			To:       action.To,
			Cc:       action.Cc,
			Bcc:      action.Bcc,
		}
		if action.Err != nil {
			msg := action.Err.Error()
			item.Error = &msg
		}
		plan.ActionItems = append(plan.ActionItems, item)
	}
	return plan
}

// recordOutcomes persists per-item execution errors.
func (r *Runner) recordOutcomes(ctx context.Context, plan *domain.ExecutedRule, outcomes []*ActionOutcome) {
	for i, outcome := range outcomes {
		if outcome.Err == nil || i >= len(plan.ActionItems) {
			continue
		}
		item := plan.ActionItems[i]
		msg := outcome.Err.Error()
		item.Error = &msg
		if err := r.plans.SetActionItemError(ctx, item.ID, msg); err != nil {
			r.log.WithError(err).Error("Failed to record error on action item %d", item.ID)
		}
	}
}
