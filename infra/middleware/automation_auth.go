package middleware

import (
	"strings"
	"time"

	"automation_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload issued at login. Subject carries the user ID.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Auth validates the bearer token and stores the user ID in request locals.
// Tokens are HS256 signed with the configured secret.
func Auth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return apperr.NotLoggedIn()
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			return apperr.NotLoggedIn()
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return apperr.NotLoggedIn()
		}

		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
			return apperr.NotLoggedIn()
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return apperr.NotLoggedIn()
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
