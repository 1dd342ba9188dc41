package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutedRuleStatus is the plan lifecycle state.
type ExecutedRuleStatus string

const (
	// ExecutedRulePending awaits user approval before its actions run.
	ExecutedRulePending ExecutedRuleStatus = "PENDING"

	// ExecutedRuleApproved has had (or is having) its one execution run.
	ExecutedRuleApproved ExecutedRuleStatus = "APPROVED"

	// ExecutedRuleRejected is terminal; its actions never run.
	ExecutedRuleRejected ExecutedRuleStatus = "REJECTED"
)

// ExecutedRule is the persisted plan: the decision already made for one
// (user, thread, message) triple. The uniqueness constraint on that triple is
// the pipeline's sole idempotency and concurrency-control primitive: a
// duplicate insert is the expected non-fatal signal that another run won.
type ExecutedRule struct {
	ID        int64              `json:"id"`
	UserID    uuid.UUID          `json:"user_id"`
	RuleID    *int64             `json:"rule_id,omitempty"` // nil once the rule is deleted
	ThreadID  string             `json:"thread_id"`
	MessageID string             `json:"message_id"`
	Status    ExecutedRuleStatus `json:"status"`
	Automated bool               `json:"automated"` // Created by an automate=true rule
	Reason    string             `json:"reason,omitempty"`

	ActionItems []*ActionItem `json:"action_items"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CanApprove reports whether the plan may still transition to APPROVED.
func (e *ExecutedRule) CanApprove() bool {
	return e.Status == ExecutedRulePending
}

// Executed reports whether the execution engine has already consumed the plan.
func (e *ExecutedRule) Executed() bool {
	return e.ExecutedAt != nil
}

// ActionItem is one fully resolved action of a plan: concrete parameter
// values, ready to execute. Error records a per-item execution or validation
// failure without failing sibling items.
type ActionItem struct {
	ID             int64      `json:"id"`
	ExecutedRuleID int64      `json:"executed_rule_id"`
	Type           ActionType `json:"type"`
	Position       int        `json:"position"`

	Label   string `json:"label,omitempty"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`
	To      string `json:"to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Bcc     string `json:"bcc,omitempty"`

	Error *string `json:"error,omitempty"`
}

// FieldValue returns the resolved value for a field.
func (a *ActionItem) FieldValue(f ActionField) string {
	switch f {
	case FieldLabel:
		return a.Label
	case FieldSubject:
		return a.Subject
	case FieldContent:
		return a.Content
	case FieldTo:
		return a.To
	case FieldCc:
		return a.Cc
	case FieldBcc:
		return a.Bcc
	default:
		return ""
	}
}

// ExecutedRuleRepository provides plan storage. Create must fail with the
// persistence duplicate error when a plan for the same (user, thread,
// message) already exists. UpdateStatus must transition only a plan that is
// still PENDING and fail otherwise, so racing approvals resolve to exactly
// one winner.
type ExecutedRuleRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID, id int64) (*ExecutedRule, error)
	GetByMessage(ctx context.Context, userID uuid.UUID, threadID, messageID string) (*ExecutedRule, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status *ExecutedRuleStatus, limit, offset int) ([]*ExecutedRule, error)
	Create(ctx context.Context, plan *ExecutedRule) error
	UpdateStatus(ctx context.Context, userID uuid.UUID, id int64, status ExecutedRuleStatus) error
	MarkExecuted(ctx context.Context, id int64, executedAt time.Time) error
	SetActionItemError(ctx context.Context, itemID int64, message string) error
}
