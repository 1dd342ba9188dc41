package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"automation_server/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ExecutedRuleAdapter implements domain.ExecutedRuleRepository using
// PostgreSQL. The executed_rules table carries a unique index on
// (user_id, thread_id, message_id); Create surfaces its violation as
// ErrDuplicate.
type ExecutedRuleAdapter struct {
	db *sqlx.DB
}

// NewExecutedRuleAdapter creates a new ExecutedRuleAdapter.
func NewExecutedRuleAdapter(db *sqlx.DB) *ExecutedRuleAdapter {
	return &ExecutedRuleAdapter{db: db}
}

// executedRuleRow represents the database row for executed rules.
type executedRuleRow struct {
	ID         int64          `db:"id"`
	UserID     uuid.UUID      `db:"user_id"`
	RuleID     sql.NullInt64  `db:"rule_id"`
	ThreadID   string         `db:"thread_id"`
	MessageID  string         `db:"message_id"`
	Status     string         `db:"status"`
	Automated  bool           `db:"automated"`
	Reason     sql.NullString `db:"reason"`
	ExecutedAt sql.NullTime   `db:"executed_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r *executedRuleRow) toEntity() *domain.ExecutedRule {
	plan := &domain.ExecutedRule{
		ID:        r.ID,
		UserID:    r.UserID,
		ThreadID:  r.ThreadID,
		MessageID: r.MessageID,
		Status:    domain.ExecutedRuleStatus(r.Status),
		Automated: r.Automated,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.RuleID.Valid {
		ruleID := r.RuleID.Int64
		plan.RuleID = &ruleID
	}
	if r.Reason.Valid {
		plan.Reason = r.Reason.String
	}
	if r.ExecutedAt.Valid {
		executedAt := r.ExecutedAt.Time
		plan.ExecutedAt = &executedAt
	}
	return plan
}

// actionItemRow represents the database row for plan action items.
type actionItemRow struct {
	ID             int64          `db:"id"`
	ExecutedRuleID int64          `db:"executed_rule_id"`
	Type           string         `db:"type"`
	Position       int            `db:"position"`
	Label          sql.NullString `db:"label"`
	Subject        sql.NullString `db:"subject"`
	Content        sql.NullString `db:"content"`
	To             sql.NullString `db:"to_addr"`
	Cc             sql.NullString `db:"cc_addr"`
	Bcc            sql.NullString `db:"bcc_addr"`
	Error          sql.NullString `db:"error"`
}

func (r *actionItemRow) toEntity() *domain.ActionItem {
	item := &domain.ActionItem{
		ID:             r.ID,
		ExecutedRuleID: r.ExecutedRuleID,
		Type:           domain.ActionType(r.Type),
		Position:       r.Position,
		Label:          r.Label.String,
		Subject:        r.Subject.String,
		Content:        r.Content.String,
		To:             r.To.String,
		Cc:             r.Cc.String,
		Bcc:            r.Bcc.String,
	}
	if r.Error.Valid {
		msg := r.Error.String
		item.Error = &msg
	}
	return item
}

// GetByID retrieves a plan with its items, scoped to its owner.
func (a *ExecutedRuleAdapter) GetByID(ctx context.Context, userID uuid.UUID, id int64) (*domain.ExecutedRule, error) {
	var row executedRuleRow
	query := `SELECT * FROM executed_rules WHERE id = $1 AND user_id = $2`

	if err := a.db.GetContext(ctx, &row, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	plan := row.toEntity()
	if err := a.loadItems(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// GetByMessage retrieves the plan for one (user, thread, message) triple.
func (a *ExecutedRuleAdapter) GetByMessage(ctx context.Context, userID uuid.UUID, threadID, messageID string) (*domain.ExecutedRule, error) {
	var row executedRuleRow
	query := `SELECT * FROM executed_rules WHERE user_id = $1 AND thread_id = $2 AND message_id = $3`

	if err := a.db.GetContext(ctx, &row, query, userID, threadID, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan by message: %w", err)
	}

	plan := row.toEntity()
	if err := a.loadItems(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListByUser retrieves the user's plans, newest first.
func (a *ExecutedRuleAdapter) ListByUser(ctx context.Context, userID uuid.UUID, status *domain.ExecutedRuleStatus, limit, offset int) ([]*domain.ExecutedRule, error) {
	var rows []executedRuleRow
	var err error

	if status != nil {
		query := `
			SELECT * FROM executed_rules
			WHERE user_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4`
		err = a.db.SelectContext(ctx, &rows, query, userID, string(*status), limit, offset)
	} else {
		query := `
			SELECT * FROM executed_rules
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`
		err = a.db.SelectContext(ctx, &rows, query, userID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	plans := make([]*domain.ExecutedRule, len(rows))
	for i, row := range rows {
		plans[i] = row.toEntity()
		if err := a.loadItems(ctx, plans[i]); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (a *ExecutedRuleAdapter) loadItems(ctx context.Context, plan *domain.ExecutedRule) error {
	var rows []actionItemRow
	query := `SELECT * FROM executed_rule_items WHERE executed_rule_id = $1 ORDER BY position ASC`

	if err := a.db.SelectContext(ctx, &rows, query, plan.ID); err != nil {
		return fmt.Errorf("failed to load plan items: %w", err)
	}
	plan.ActionItems = make([]*domain.ActionItem, len(rows))
	for i, row := range rows {
		plan.ActionItems[i] = row.toEntity()
	}
	return nil
}

// Create inserts a plan and its items in one transaction. A plan already
// existing for the same message yields ErrDuplicate with nothing written.
func (a *ExecutedRuleAdapter) Create(ctx context.Context, plan *domain.ExecutedRule) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO executed_rules (user_id, rule_id, thread_id, message_id, status, automated, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(
		ctx,
		query,
		plan.UserID,
		nullInt64(plan.RuleID),
		plan.ThreadID,
		plan.MessageID,
		string(plan.Status),
		plan.Automated,
		sql.NullString{String: plan.Reason, Valid: plan.Reason != ""},
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create plan: %w", err)
	}

	itemQuery := `
		INSERT INTO executed_rule_items (executed_rule_id, type, position, label, subject, content, to_addr, cc_addr, bcc_addr, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	for i, item := range plan.ActionItems {
		item.ExecutedRuleID = plan.ID
		item.Position = i
		err := tx.QueryRowContext(
			ctx,
			itemQuery,
			plan.ID,
			string(item.Type),
			i,
			sql.NullString{String: item.Label, Valid: item.Label != ""},
			sql.NullString{String: item.Subject, Valid: item.Subject != ""},
			sql.NullString{String: item.Content, Valid: item.Content != ""},
			sql.NullString{String: item.To, Valid: item.To != ""},
			sql.NullString{String: item.Cc, Valid: item.Cc != ""},
			sql.NullString{String: item.Bcc, Valid: item.Bcc != ""},
			nullString(item.Error),
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to create plan item: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateStatus transitions a plan out of PENDING. The status guard in the
// WHERE clause makes the transition atomic: of two racing approvals only one
// update affects a row, and a REJECTED plan can never be overwritten.
func (a *ExecutedRuleAdapter) UpdateStatus(ctx context.Context, userID uuid.UUID, id int64, status domain.ExecutedRuleStatus) error {
	query := `UPDATE executed_rules SET status = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = $4`

	result, err := a.db.ExecContext(ctx, query, id, userID, string(status), string(domain.ExecutedRulePending))
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExecuted stamps the plan's one execution.
func (a *ExecutedRuleAdapter) MarkExecuted(ctx context.Context, id int64, executedAt time.Time) error {
	query := `UPDATE executed_rules SET executed_at = $2, updated_at = NOW() WHERE id = $1`

	result, err := a.db.ExecContext(ctx, query, id, executedAt)
	if err != nil {
		return fmt.Errorf("failed to mark plan executed: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActionItemError records a per-item failure.
func (a *ExecutedRuleAdapter) SetActionItemError(ctx context.Context, itemID int64, message string) error {
	query := `UPDATE executed_rule_items SET error = $2 WHERE id = $1`

	if _, err := a.db.ExecContext(ctx, query, itemID, message); err != nil {
		return fmt.Errorf("failed to record item error: %w", err)
	}
	return nil
}
