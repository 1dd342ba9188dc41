package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is the mailbox owner. About feeds the AI matcher and resolver prompts;
// the token fields carry the provider OAuth credential.
type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	About *string   `json:"about,omitempty"`

	// Per-user LLM overrides; nil falls back to server config
	AIModel *string `json:"ai_model,omitempty"`

	// Google OAuth token, stored as JSON by the persistence layer
	GoogleToken *string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserRepository provides user storage.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateAbout(ctx context.Context, id uuid.UUID, about string) error
}
