package out

import (
	"context"
	"errors"
	"fmt"

	"automation_server/core/domain"

	"github.com/google/uuid"
)

// Well-known provider label identifiers.
const (
	LabelInbox = "INBOX"
	LabelSpam  = "SPAM"
)

// ProviderErrorKind classifies mail provider failures so callers can decide
// between skipping, retrying, and surfacing.
type ProviderErrorKind int

const (
	ProviderErrorUnknown    ProviderErrorKind = iota
	ProviderErrorNotFound                     // Message/thread/label gone (possibly a race)
	ProviderErrorPermission                   // Token lacks scope or was revoked
	ProviderErrorTransient                    // Rate limit / 5xx; safe to retry
)

// ProviderError is a typed mail provider failure.
type ProviderError struct {
	Kind ProviderErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a provider not-found failure.
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderErrorNotFound
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderErrorTransient
}

// IsPermission reports whether err is a provider permission failure.
func IsPermission(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderErrorPermission
}

// EmailThread is a provider thread with its messages in delivery order.
type EmailThread struct {
	ID       string                 `json:"id"`
	Messages []*domain.EmailMessage `json:"messages"`
}

// LabelModification adds and removes labels on a thread in one call.
type LabelModification struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// SendRequest describes an outgoing message or draft. Thread fields are set
// when the message continues an existing conversation.
type SendRequest struct {
	To      string `json:"to"`
	Cc      string `json:"cc,omitempty"`
	Bcc     string `json:"bcc,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// Threading
	ThreadID   string `json:"thread_id,omitempty"`
	InReplyTo  string `json:"in_reply_to,omitempty"` // Message-ID of the message replied to
	References string `json:"references,omitempty"`
}

// EmailProvider is the mail client contract the pipeline executes against.
// Implementations map failures onto ProviderError kinds.
type EmailProvider interface {
	GetMessage(ctx context.Context, messageID string) (*domain.EmailMessage, error)
	GetThread(ctx context.Context, threadID string) (*EmailThread, error)
	ModifyThreadLabels(ctx context.Context, threadID string, mod *LabelModification) error
	SendMessage(ctx context.Context, req *SendRequest) (string, error)
	CreateDraft(ctx context.Context, req *SendRequest) (string, error)

	// GetOrCreateLabel resolves a label name to its provider ID, creating the
	// label when the provider allows it.
	GetOrCreateLabel(ctx context.Context, name string) (string, error)
}

// ProviderFactory builds a provider bound to one user's mailbox credential.
type ProviderFactory interface {
	ProviderForUser(ctx context.Context, userID uuid.UUID) (EmailProvider, error)
}
