// Package gmail provides the Gmail API adapter.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"automation_server/core/domain"
	"automation_server/core/port/out"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Provider implements out.EmailProvider for Gmail.
type Provider struct {
	service *gmail.Service
	email   string
	cb      *gobreaker.CircuitBreaker
}

// NewProvider creates a new Gmail provider for one user's token. The circuit
// breaker is shared across providers so an API outage trips once.
func NewProvider(ctx context.Context, token *oauth2.Token, config *oauth2.Config, cb *gobreaker.CircuitBreaker) (*Provider, error) {
	client := config.Client(ctx, token)
	service, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	p := &Provider{service: service, cb: cb}

	var profile *gmail.Profile
	err = p.call("get profile", func() error {
		var callErr error
		profile, callErr = service.Users.GetProfile("me").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}

	p.email = profile.EmailAddress
	return p, nil
}

// call runs one API operation through the circuit breaker. Client errors
// (4xx) must not trip the breaker; only server-side failures count.
func (p *Provider) call(op string, fn func() error) error {
	_, err := p.cb.Execute(func() (any, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}
	if nce, ok := err.(*nonCircuitError); ok {
		err = nce.err
	}
	return wrapErr(op, err)
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// GetEmail returns the connected mailbox address.
func (p *Provider) GetEmail() string {
	return p.email
}

// GetMessage retrieves a message by ID.
func (p *Provider) GetMessage(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	var msg *gmail.Message
	err := p.call("get message", func() error {
		var callErr error
		msg, callErr = p.service.Users.Messages.Get("me", messageID).
			Format("full").
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return parseMessage(msg), nil
}

// GetThread retrieves a thread with all its messages.
func (p *Provider) GetThread(ctx context.Context, threadID string) (*out.EmailThread, error) {
	var thread *gmail.Thread
	err := p.call("get thread", func() error {
		var callErr error
		thread, callErr = p.service.Users.Threads.Get("me", threadID).
			Format("full").
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := &out.EmailThread{ID: thread.Id}
	for _, msg := range thread.Messages {
		result.Messages = append(result.Messages, parseMessage(msg))
	}
	return result, nil
}

// ModifyThreadLabels adds and removes labels across a whole thread.
func (p *Provider) ModifyThreadLabels(ctx context.Context, threadID string, mod *out.LabelModification) error {
	return p.call("modify thread labels", func() error {
		_, err := p.service.Users.Threads.Modify("me", threadID, &gmail.ModifyThreadRequest{
			AddLabelIds:    mod.Add,
			RemoveLabelIds: mod.Remove,
		}).Context(ctx).Do()
		return err
	})
}

// SendMessage sends a message. Thread fields on the request keep the sent
// message in its conversation.
func (p *Provider) SendMessage(ctx context.Context, req *out.SendRequest) (string, error) {
	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildRawMessage(req))),
	}
	if req.ThreadID != "" {
		msg.ThreadId = req.ThreadID
	}

	var sent *gmail.Message
	err := p.call("send message", func() error {
		var callErr error
		sent, callErr = p.service.Users.Messages.Send("me", msg).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}

// CreateDraft stores a draft without sending.
func (p *Provider) CreateDraft(ctx context.Context, req *out.SendRequest) (string, error) {
	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildRawMessage(req))),
	}
	if req.ThreadID != "" {
		msg.ThreadId = req.ThreadID
	}

	var draft *gmail.Draft
	err := p.call("create draft", func() error {
		var callErr error
		draft, callErr = p.service.Users.Drafts.Create("me", &gmail.Draft{Message: msg}).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", err
	}
	return draft.Id, nil
}

// GetOrCreateLabel resolves a label name to its ID, creating the label if it
// does not exist. Name comparison is case-insensitive, matching Gmail.
func (p *Provider) GetOrCreateLabel(ctx context.Context, name string) (string, error) {
	var resp *gmail.ListLabelsResponse
	err := p.call("list labels", func() error {
		var callErr error
		resp, callErr = p.service.Users.Labels.List("me").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", err
	}
	for _, l := range resp.Labels {
		if strings.EqualFold(l.Name, name) {
			return l.Id, nil
		}
	}

	var created *gmail.Label
	err = p.call("create label", func() error {
		var callErr error
		created, callErr = p.service.Users.Labels.Create("me", &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// wrapErr classifies a Gmail API failure into a ProviderError kind. An open
// circuit counts as transient so callers back off instead of failing hard.
func wrapErr(op string, err error) error {
	kind := out.ProviderErrorUnknown
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		kind = out.ProviderErrorTransient
	} else if apiErr, ok := err.(*googleapi.Error); ok {
		switch {
		case apiErr.Code == 404:
			kind = out.ProviderErrorNotFound
		case apiErr.Code == 401 || apiErr.Code == 403:
			kind = out.ProviderErrorPermission
		case apiErr.Code == 429 || apiErr.Code >= 500:
			kind = out.ProviderErrorTransient
		}
	}
	return &out.ProviderError{Kind: kind, Op: op, Err: err}
}

// Helper functions

func parseMessage(msg *gmail.Message) *domain.EmailMessage {
	em := &domain.EmailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Date:     time.Unix(msg.InternalDate/1000, 0),
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				em.From = header.Value
			case "To":
				em.To = header.Value
			case "Cc":
				em.Cc = header.Value
			case "Reply-To":
				em.ReplyTo = header.Value
			case "Subject":
				em.Subject = header.Value
			case "Message-ID", "Message-Id":
				em.MessageIDHeader = header.Value
			case "References":
				em.References = header.Value
			case "Date":
				if t, err := time.Parse(time.RFC1123Z, header.Value); err == nil {
					em.Date = t
				}
			}
		}

		em.HTMLBody, em.TextBody = parseBody(msg.Payload)
	}

	return em
}

func parseBody(payload *gmail.MessagePart) (html, text string) {
	if payload == nil {
		return "", ""
	}

	if payload.MimeType == "text/html" && payload.Body != nil {
		data, _ := base64.URLEncoding.DecodeString(payload.Body.Data)
		html = string(data)
	}
	if payload.MimeType == "text/plain" && payload.Body != nil {
		data, _ := base64.URLEncoding.DecodeString(payload.Body.Data)
		text = string(data)
	}

	for _, part := range payload.Parts {
		h, t := parseBody(part)
		if html == "" && h != "" {
			html = h
		}
		if text == "" && t != "" {
			text = t
		}
	}

	return html, text
}

func buildRawMessage(req *out.SendRequest) string {
	var sb strings.Builder

	sb.WriteString("To: " + req.To + "\r\n")
	if req.Cc != "" {
		sb.WriteString("Cc: " + req.Cc + "\r\n")
	}
	if req.Bcc != "" {
		sb.WriteString("Bcc: " + req.Bcc + "\r\n")
	}
	sb.WriteString("Subject: " + req.Subject + "\r\n")
	if req.InReplyTo != "" {
		sb.WriteString("In-Reply-To: " + req.InReplyTo + "\r\n")
	}
	if req.References != "" {
		sb.WriteString("References: " + req.References + "\r\n")
	}
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(req.Body)

	return sb.String()
}

// Ensure Provider implements out.EmailProvider
var _ out.EmailProvider = (*Provider)(nil)
