package gmail

import (
	"context"
	"fmt"
	"time"

	"automation_server/core/domain"
	"automation_server/core/port/out"
	"automation_server/pkg/apperr"
	"automation_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Factory builds Gmail providers bound to individual users' stored tokens.
// All providers share one circuit breaker on the Gmail API.
type Factory struct {
	users  domain.UserRepository
	config *oauth2.Config
	cb     *gobreaker.CircuitBreaker
}

// NewFactory creates a provider factory.
func NewFactory(users domain.UserRepository, clientID, clientSecret, redirectURL string) *Factory {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Factory{
		users: users,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.modify",
				"https://www.googleapis.com/auth/gmail.compose",
			},
		},
		cb: cb,
	}
}

// ProviderForUser loads the user's stored token and opens a Gmail session.
// Token refresh happens inside the oauth2 client on demand.
func (f *Factory) ProviderForUser(ctx context.Context, userID uuid.UUID) (out.EmailProvider, error) {
	user, err := f.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.GoogleToken == nil || *user.GoogleToken == "" {
		return nil, apperr.Forbidden("no mail account connected")
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(*user.GoogleToken), &token); err != nil {
		return nil, fmt.Errorf("decode stored token: %w", err)
	}

	return NewProvider(ctx, &token, f.config, f.cb)
}

// Ensure Factory implements out.ProviderFactory
var _ out.ProviderFactory = (*Factory)(nil)
