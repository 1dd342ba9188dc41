// Package worker consumes incoming mail events and feeds them through the
// rule pipeline.
package worker

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// IncomingMail is one stream entry: a message newly arrived in a user's
// mailbox.
type IncomingMail struct {
	UserID     uuid.UUID `json:"user_id"`
	ThreadID   string    `json:"thread_id"`
	MessageID  string    `json:"message_id"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Validate rejects entries the pipeline cannot process.
func (m *IncomingMail) Validate() error {
	if m.UserID == uuid.Nil {
		return fmt.Errorf("missing user_id")
	}
	if m.MessageID == "" {
		return fmt.Errorf("missing message_id")
	}
	return nil
}

// ParseIncomingMail decodes one stream entry payload.
func ParseIncomingMail(data []byte) (*IncomingMail, error) {
	var m IncomingMail
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode incoming mail: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
