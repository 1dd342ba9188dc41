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

// GroupAdapter implements domain.GroupRepository using PostgreSQL.
type GroupAdapter struct {
	db *sqlx.DB
}

// NewGroupAdapter creates a new GroupAdapter.
func NewGroupAdapter(db *sqlx.DB) *GroupAdapter {
	return &GroupAdapter{db: db}
}

// groupRow represents the database row for groups.
type groupRow struct {
	ID        int64     `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *groupRow) toEntity() *domain.Group {
	return &domain.Group{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// groupItemRow represents the database row for group items.
type groupItemRow struct {
	ID      int64  `db:"id"`
	GroupID int64  `db:"group_id"`
	Type    string `db:"type"`
	Value   string `db:"value"`
}

func (r *groupItemRow) toEntity() *domain.GroupItem {
	return &domain.GroupItem{
		ID:      r.ID,
		GroupID: r.GroupID,
		Type:    domain.GroupItemType(r.Type),
		Value:   r.Value,
	}
}

// GetByID retrieves a group with its items.
func (a *GroupAdapter) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	var row groupRow
	query := `SELECT * FROM groups WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	group := row.toEntity()
	if err := a.loadItems(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// FindByName retrieves a user's group by exact name.
func (a *GroupAdapter) FindByName(ctx context.Context, userID uuid.UUID, name string) (*domain.Group, error) {
	var row groupRow
	query := `SELECT * FROM groups WHERE user_id = $1 AND name = $2`

	if err := a.db.GetContext(ctx, &row, query, userID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find group: %w", err)
	}

	group := row.toEntity()
	if err := a.loadItems(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// ListByUser retrieves all groups for a user with their items.
func (a *GroupAdapter) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error) {
	var rows []groupRow
	query := `SELECT * FROM groups WHERE user_id = $1 ORDER BY name ASC`

	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups := make([]*domain.Group, len(rows))
	for i, row := range rows {
		groups[i] = row.toEntity()
		if err := a.loadItems(ctx, groups[i]); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (a *GroupAdapter) loadItems(ctx context.Context, group *domain.Group) error {
	var rows []groupItemRow
	query := `SELECT * FROM group_items WHERE group_id = $1 ORDER BY id ASC`

	if err := a.db.SelectContext(ctx, &rows, query, group.ID); err != nil {
		return fmt.Errorf("failed to load group items: %w", err)
	}
	group.Items = make([]*domain.GroupItem, len(rows))
	for i, row := range rows {
		group.Items[i] = row.toEntity()
	}
	return nil
}

// Create creates a new group.
func (a *GroupAdapter) Create(ctx context.Context, group *domain.Group) error {
	query := `
		INSERT INTO groups (user_id, name)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	err := a.db.QueryRowContext(ctx, query, group.UserID, group.Name).
		Scan(&group.ID, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// AddItem appends one membership entry.
func (a *GroupAdapter) AddItem(ctx context.Context, item *domain.GroupItem) error {
	query := `
		INSERT INTO group_items (group_id, type, value)
		VALUES ($1, $2, $3)
		RETURNING id`

	err := a.db.QueryRowContext(ctx, query, item.GroupID, string(item.Type), item.Value).
		Scan(&item.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to add group item: %w", err)
	}
	return nil
}

// DeleteItem removes one membership entry.
func (a *GroupAdapter) DeleteItem(ctx context.Context, groupID, itemID int64) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM group_items WHERE id = $1 AND group_id = $2`, itemID, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
