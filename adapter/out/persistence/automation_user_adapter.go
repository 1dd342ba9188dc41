package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"automation_server/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UserAdapter implements domain.UserRepository using PostgreSQL.
type UserAdapter struct {
	db *sqlx.DB
}

// NewUserAdapter creates a new UserAdapter.
func NewUserAdapter(db *sqlx.DB) *UserAdapter {
	return &UserAdapter{db: db}
}

// userRow represents the database row for users.
type userRow struct {
	ID          uuid.UUID      `db:"id"`
	Email       string         `db:"email"`
	About       sql.NullString `db:"about"`
	AIModel     sql.NullString `db:"ai_model"`
	GoogleToken sql.NullString `db:"google_token"`
}

func (r *userRow) toEntity() *domain.User {
	user := &domain.User{
		ID:    r.ID,
		Email: r.Email,
	}
	if r.About.Valid {
		about := r.About.String
		user.About = &about
	}
	if r.AIModel.Valid {
		model := r.AIModel.String
		user.AIModel = &model
	}
	if r.GoogleToken.Valid {
		token := r.GoogleToken.String
		user.GoogleToken = &token
	}
	return user
}

// GetByID retrieves a user by ID.
func (a *UserAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var row userRow
	query := `SELECT id, email, about, ai_model, google_token FROM users WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toEntity(), nil
}

// GetByEmail retrieves a user by email address.
func (a *UserAdapter) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var row userRow
	query := `SELECT id, email, about, ai_model, google_token FROM users WHERE email = $1`

	if err := a.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toEntity(), nil
}

// UpdateAbout replaces the user's profile note used in LLM prompts.
func (a *UserAdapter) UpdateAbout(ctx context.Context, id uuid.UUID, about string) error {
	result, err := a.db.ExecContext(ctx, `UPDATE users SET about = $2, updated_at = NOW() WHERE id = $1`, id, about)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
