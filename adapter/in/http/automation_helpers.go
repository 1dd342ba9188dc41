// Package http provides the fiber HTTP handlers.
package http

import (
	"errors"

	"automation_server/adapter/out/persistence"
	"automation_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// GetUserID safely extracts user_id from fiber context
// Returns error if not authenticated
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userIDVal := c.Locals("user_id")
	if userIDVal == nil {
		return uuid.Nil, apperr.NotLoggedIn()
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		return uuid.Nil, apperr.NotLoggedIn()
	}
	return userID, nil
}

// mapRepoError converts persistence sentinels to API errors.
func mapRepoError(err error, resource string) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return apperr.NotFound(resource)
	case errors.Is(err, persistence.ErrDuplicate):
		return apperr.Duplicate(resource)
	default:
		return err
	}
}
