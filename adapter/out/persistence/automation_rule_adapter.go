// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"automation_server/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// aiSentinel is the stored marker for action fields generated per email.
// Only this layer knows the sentinel; the domain carries tagged values.
const aiSentinel = "{{AI}}"

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RuleAdapter implements domain.RuleRepository using PostgreSQL.
type RuleAdapter struct {
	db *sqlx.DB
}

// NewRuleAdapter creates a new RuleAdapter.
func NewRuleAdapter(db *sqlx.DB) *RuleAdapter {
	return &RuleAdapter{db: db}
}

// ruleRow represents the database row for rules.
type ruleRow struct {
	ID           int64          `db:"id"`
	UserID       uuid.UUID      `db:"user_id"`
	Name         string         `db:"name"`
	Type         string         `db:"type"`
	Instructions string         `db:"instructions"`
	FromCond     sql.NullString `db:"from_cond"`
	ToCond       sql.NullString `db:"to_cond"`
	SubjectCond  sql.NullString `db:"subject_cond"`
	GroupID      sql.NullInt64  `db:"group_id"`
	Category     sql.NullString `db:"category"`
	Automate     bool           `db:"automate"`
	RunOnThreads bool           `db:"run_on_threads"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r *ruleRow) toEntity() *domain.Rule {
	rule := &domain.Rule{
		ID:           r.ID,
		UserID:       r.UserID,
		Name:         r.Name,
		Type:         domain.RuleType(r.Type),
		Instructions: r.Instructions,
		Automate:     r.Automate,
		RunOnThreads: r.RunOnThreads,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}

	if r.FromCond.Valid {
		from := r.FromCond.String
		rule.From = &from
	}
	if r.ToCond.Valid {
		to := r.ToCond.String
		rule.To = &to
	}
	if r.SubjectCond.Valid {
		subject := r.SubjectCond.String
		rule.Subject = &subject
	}
	if r.GroupID.Valid {
		groupID := r.GroupID.Int64
		rule.GroupID = &groupID
	}
	if r.Category.Valid {
		category := r.Category.String
		rule.Category = &category
	}

	return rule
}

// actionRow represents the database row for rule actions. Field columns hold
// either a literal or the AI sentinel; NULL means the field is unset.
type actionRow struct {
	ID       int64          `db:"id"`
	RuleID   int64          `db:"rule_id"`
	Type     string         `db:"type"`
	Position int            `db:"position"`
	Label    sql.NullString `db:"label"`
	Subject  sql.NullString `db:"subject"`
	Content  sql.NullString `db:"content"`
	To       sql.NullString `db:"to_addr"`
	Cc       sql.NullString `db:"cc_addr"`
	Bcc      sql.NullString `db:"bcc_addr"`
}

func (r *actionRow) toEntity() *domain.Action {
	action := &domain.Action{
		ID:       r.ID,
		RuleID:   r.RuleID,
		Type:     domain.ActionType(r.Type),
		Position: r.Position,
	}
	setColumn := func(field domain.ActionField, col sql.NullString) {
		if !col.Valid {
			return
		}
		if col.String == aiSentinel {
			action.SetField(field, domain.GenerateAtRuntime())
			return
		}
		action.SetField(field, domain.Literal(col.String))
	}
	setColumn(domain.FieldLabel, r.Label)
	setColumn(domain.FieldSubject, r.Subject)
	setColumn(domain.FieldContent, r.Content)
	setColumn(domain.FieldTo, r.To)
	setColumn(domain.FieldCc, r.Cc)
	setColumn(domain.FieldBcc, r.Bcc)
	return action
}

// fieldColumn converts a tagged value to its stored form.
func fieldColumn(action *domain.Action, field domain.ActionField) sql.NullString {
	v := action.FieldValue(field)
	if v.IsAI() {
		return sql.NullString{String: aiSentinel, Valid: true}
	}
	if v.Literal == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Literal, Valid: true}
}

// GetByID retrieves a rule with its actions.
func (a *RuleAdapter) GetByID(ctx context.Context, id int64) (*domain.Rule, error) {
	var row ruleRow
	query := `SELECT * FROM rules WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	rule := row.toEntity()
	if err := a.loadActions(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// ListByUser retrieves all rules for a user with their actions.
func (a *RuleAdapter) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Rule, error) {
	var rows []ruleRow
	query := `SELECT * FROM rules WHERE user_id = $1 ORDER BY id ASC`

	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	rules := make([]*domain.Rule, len(rows))
	for i, row := range rows {
		rules[i] = row.toEntity()
		if err := a.loadActions(ctx, rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func (a *RuleAdapter) loadActions(ctx context.Context, rule *domain.Rule) error {
	var rows []actionRow
	query := `SELECT * FROM rule_actions WHERE rule_id = $1 ORDER BY position ASC`

	if err := a.db.SelectContext(ctx, &rows, query, rule.ID); err != nil {
		return fmt.Errorf("failed to load rule actions: %w", err)
	}
	rule.Actions = make([]*domain.Action, len(rows))
	for i, row := range rows {
		rule.Actions[i] = row.toEntity()
	}
	return nil
}

// Create inserts a rule and its actions in one transaction.
func (a *RuleAdapter) Create(ctx context.Context, rule *domain.Rule) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO rules (user_id, name, type, instructions, from_cond, to_cond, subject_cond, group_id, category, automate, run_on_threads)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(
		ctx,
		query,
		rule.UserID,
		rule.Name,
		string(rule.Type),
		rule.Instructions,
		nullString(rule.From),
		nullString(rule.To),
		nullString(rule.Subject),
		nullInt64(rule.GroupID),
		nullString(rule.Category),
		rule.Automate,
		rule.RunOnThreads,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	if err := a.insertActions(ctx, tx, rule); err != nil {
		return err
	}
	return tx.Commit()
}

// Update replaces the rule and rewrites its action set.
func (a *RuleAdapter) Update(ctx context.Context, rule *domain.Rule) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE rules
		SET name = $3, type = $4, instructions = $5, from_cond = $6, to_cond = $7,
		    subject_cond = $8, group_id = $9, category = $10, automate = $11,
		    run_on_threads = $12, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`

	result, err := tx.ExecContext(
		ctx,
		query,
		rule.ID,
		rule.UserID,
		rule.Name,
		string(rule.Type),
		rule.Instructions,
		nullString(rule.From),
		nullString(rule.To),
		nullString(rule.Subject),
		nullInt64(rule.GroupID),
		nullString(rule.Category),
		rule.Automate,
		rule.RunOnThreads,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_actions WHERE rule_id = $1`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear rule actions: %w", err)
	}
	if err := a.insertActions(ctx, tx, rule); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *RuleAdapter) insertActions(ctx context.Context, tx *sqlx.Tx, rule *domain.Rule) error {
	query := `
		INSERT INTO rule_actions (rule_id, type, position, label, subject, content, to_addr, cc_addr, bcc_addr)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	for i, action := range rule.Actions {
		action.RuleID = rule.ID
		action.Position = i
		err := tx.QueryRowContext(
			ctx,
			query,
			rule.ID,
			string(action.Type),
			i,
			fieldColumn(action, domain.FieldLabel),
			fieldColumn(action, domain.FieldSubject),
			fieldColumn(action, domain.FieldContent),
			fieldColumn(action, domain.FieldTo),
			fieldColumn(action, domain.FieldCc),
			fieldColumn(action, domain.FieldBcc),
		).Scan(&action.ID)
		if err != nil {
			return fmt.Errorf("failed to create rule action: %w", err)
		}
	}
	return nil
}

// Delete removes a rule owned by the user; actions cascade.
func (a *RuleAdapter) Delete(ctx context.Context, userID uuid.UUID, id int64) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
