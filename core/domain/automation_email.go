package domain

import (
	"strings"
	"time"
)

// EmailMessage is an immutable snapshot of one provider message, as seen by
// the rule matcher and the action resolver. Fetched per evaluation, never
// persisted and never mutated.
type EmailMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`

	// Headers
	From            string    `json:"from"`
	To              string    `json:"to"`
	Cc              string    `json:"cc,omitempty"`
	ReplyTo         string    `json:"reply_to,omitempty"`
	Subject         string    `json:"subject"`
	Date            time.Time `json:"date"`
	MessageIDHeader string    `json:"message_id_header,omitempty"` // RFC 5322 Message-ID
	References      string    `json:"references,omitempty"`

	// Body
	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
}

// Content returns the best available body text for matching and prompts.
func (e *EmailMessage) Content() string {
	if e.TextBody != "" {
		return e.TextBody
	}
	return e.Snippet
}

// ReplyRecipient returns where a reply should go: the Reply-To header when
// present, otherwise the From header.
func (e *EmailMessage) ReplyRecipient() string {
	if e.ReplyTo != "" {
		return e.ReplyTo
	}
	return e.From
}

// SenderAddress extracts the bare address from the From header
// ("Name <a@b.com>" -> "a@b.com").
func (e *EmailMessage) SenderAddress() string {
	return ExtractAddress(e.From)
}

// ExtractAddress pulls the address out of a display-name header value.
func ExtractAddress(header string) string {
	if start := strings.LastIndex(header, "<"); start >= 0 {
		if end := strings.LastIndex(header, ">"); end > start {
			return strings.TrimSpace(header[start+1 : end])
		}
	}
	return strings.TrimSpace(header)
}

// SenderDomain returns the domain part of an email address, or "" when the
// value does not look like an address.
func SenderDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
