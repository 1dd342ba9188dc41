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

// SenderCategoryAdapter implements domain.SenderCategoryRepository using
// PostgreSQL.
type SenderCategoryAdapter struct {
	db *sqlx.DB
}

// NewSenderCategoryAdapter creates a new SenderCategoryAdapter.
func NewSenderCategoryAdapter(db *sqlx.DB) *SenderCategoryAdapter {
	return &SenderCategoryAdapter{db: db}
}

// senderCategoryRow represents the database row for sender categories.
type senderCategoryRow struct {
	ID        int64     `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Sender    string    `db:"sender"`
	Category  string    `db:"category"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *senderCategoryRow) toEntity() *domain.SenderCategory {
	return &domain.SenderCategory{
		ID:        r.ID,
		UserID:    r.UserID,
		Sender:    r.Sender,
		Category:  r.Category,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// GetBySender retrieves a sender's category for one user.
func (a *SenderCategoryAdapter) GetBySender(ctx context.Context, userID uuid.UUID, sender string) (*domain.SenderCategory, error) {
	var row senderCategoryRow
	query := `SELECT * FROM sender_categories WHERE user_id = $1 AND sender = $2`

	if err := a.db.GetContext(ctx, &row, query, userID, sender); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sender category: %w", err)
	}
	return row.toEntity(), nil
}

// Upsert stores or replaces a sender's category.
func (a *SenderCategoryAdapter) Upsert(ctx context.Context, category *domain.SenderCategory) error {
	query := `
		INSERT INTO sender_categories (user_id, sender, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, sender) DO UPDATE SET category = EXCLUDED.category, updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := a.db.QueryRowContext(ctx, query, category.UserID, category.Sender, category.Category).
		Scan(&category.ID, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert sender category: %w", err)
	}
	return nil
}

// ListByUser retrieves all sender categories for a user.
func (a *SenderCategoryAdapter) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.SenderCategory, error) {
	var rows []senderCategoryRow
	query := `SELECT * FROM sender_categories WHERE user_id = $1 ORDER BY sender ASC`

	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list sender categories: %w", err)
	}

	categories := make([]*domain.SenderCategory, len(rows))
	for i, row := range rows {
		categories[i] = row.toEntity()
	}
	return categories, nil
}
