package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"automation_server/adapter/out/persistence"
	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/apperr"
	"automation_server/pkg/logger"

	"github.com/google/uuid"
)

// Planner manages the approval lifecycle of pending plans.
type Planner struct {
	plans    domain.ExecutedRuleRepository
	factory  out.ProviderFactory
	executor *Executor
	log      *logger.Logger
}

// NewPlanner creates the plan service.
func NewPlanner(plans domain.ExecutedRuleRepository, factory out.ProviderFactory, executor *Executor) *Planner {
	return &Planner{
		plans:    plans,
		factory:  factory,
		executor: executor,
		log:      logger.WithField("component", "planner"),
	}
}

// List returns the user's plans, newest first, optionally filtered by status.
func (p *Planner) List(ctx context.Context, userID uuid.UUID, status *domain.ExecutedRuleStatus, limit, offset int) ([]*domain.ExecutedRule, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return p.plans.ListByUser(ctx, userID, status, limit, offset)
}

// Get returns one plan scoped to its owner.
func (p *Planner) Get(ctx context.Context, userID uuid.UUID, planID int64) (*domain.ExecutedRule, error) {
	return p.plans.GetByID(ctx, userID, planID)
}

// Approve transitions a PENDING plan to APPROVED and runs its stored actions
// against the live message. Per-item failures are recorded on the items; the
// plan is still marked executed so approval is consumed exactly once.
func (p *Planner) Approve(ctx context.Context, userID uuid.UUID, planID int64) (*domain.ExecutedRule, []*ActionOutcome, error) {
	plan, err := p.plans.GetByID(ctx, userID, planID)
	if err != nil {
		return nil, nil, err
	}
	if !plan.CanApprove() {
		return nil, nil, apperr.Conflict(fmt.Sprintf("plan %d is %s, not PENDING", planID, plan.Status))
	}

	provider, err := p.factory.ProviderForUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("provider for user: %w", err)
	}

	email, err := provider.GetMessage(ctx, plan.MessageID)
	if err != nil {
		if out.IsNotFound(err) {
			return nil, nil, apperr.NotFound("message")
		}
		return nil, nil, fmt.Errorf("fetch message: %w", err)
	}

	// The guarded transition is the real gate: CanApprove above is only a
	// fast path, and a racing approval or rejection that lands first makes
	// this update miss. The loser runs nothing.
	if err := p.plans.UpdateStatus(ctx, userID, planID, domain.ExecutedRuleApproved); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil, apperr.Conflict(fmt.Sprintf("plan %d was resolved concurrently", planID))
		}
		return nil, nil, err
	}
	plan.Status = domain.ExecutedRuleApproved

	outcomes := p.executor.Execute(ctx, provider, email, itemsToResolved(plan.ActionItems))
	p.recordOutcomes(ctx, plan, outcomes)

	now := time.Now().UTC()
	if err := p.plans.MarkExecuted(ctx, plan.ID, now); err != nil {
		p.log.WithError(err).Error("Failed to mark plan %d executed", plan.ID)
	} else {
		plan.ExecutedAt = &now
	}

	return plan, outcomes, nil
}

// Reject transitions a PENDING plan to REJECTED. Nothing runs.
func (p *Planner) Reject(ctx context.Context, userID uuid.UUID, planID int64) (*domain.ExecutedRule, error) {
	plan, err := p.plans.GetByID(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	if !plan.CanApprove() {
		return nil, apperr.Conflict(fmt.Sprintf("plan %d is %s, not PENDING", planID, plan.Status))
	}
	if err := p.plans.UpdateStatus(ctx, userID, planID, domain.ExecutedRuleRejected); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, apperr.Conflict(fmt.Sprintf("plan %d was resolved concurrently", planID))
		}
		return nil, err
	}
	plan.Status = domain.ExecutedRuleRejected
	return plan, nil
}

// recordOutcomes persists per-item errors from an execution run.
func (p *Planner) recordOutcomes(ctx context.Context, plan *domain.ExecutedRule, outcomes []*ActionOutcome) {
	for i, outcome := range outcomes {
		if outcome.Err == nil || i >= len(plan.ActionItems) {
			continue
		}
		item := plan.ActionItems[i]
		msg := outcome.Err.Error()
		item.Error = &msg
		if err := p.plans.SetActionItemError(ctx, item.ID, msg); err != nil {
			p.log.WithError(err).Error("Failed to record error on action item %d", item.ID)
		}
	}
}

// itemsToResolved adapts stored action items back into executable form.
func itemsToResolved(items []*domain.ActionItem) []*ResolvedAction {
	resolved := make([]*ResolvedAction, 0, len(items))
	for _, item := range items {
		resolved = append(resolved, &ResolvedAction{
			Type:     item.Type,
			Position: item.Position,
			Label:    item.Label,
			Subject:  item.Subject,
			Content:  item.Content,
			To:       item.To,
			Cc:       item.Cc,
			Bcc:      item.Bcc,
		})
	}
	return resolved
}
