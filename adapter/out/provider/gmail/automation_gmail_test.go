package gmail

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"automation_server/core/port/out"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func TestParseMessageHeaders(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		InternalDate: 1717232400000,
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "To", Value: "me@example.com"},
				{Name: "Reply-To", Value: "billing@example.com"},
				{Name: "Subject", Value: "Invoice"},
				{Name: "Message-ID", Value: "<abc@mail>"},
				{Name: "References", Value: "<root@mail>"},
			},
			MimeType: "text/plain",
			Body: &gmail.MessagePartBody{
				Data: base64.URLEncoding.EncodeToString([]byte("hello body")),
			},
		},
	}

	em := parseMessage(msg)
	if em.ID != "m1" || em.ThreadID != "t1" {
		t.Errorf("ids = %q/%q", em.ID, em.ThreadID)
	}
	if em.ReplyTo != "billing@example.com" {
		t.Errorf("replyTo = %q", em.ReplyTo)
	}
	if em.MessageIDHeader != "<abc@mail>" {
		t.Errorf("messageID = %q", em.MessageIDHeader)
	}
	if em.References != "<root@mail>" {
		t.Errorf("references = %q", em.References)
	}
	if em.TextBody != "hello body" {
		t.Errorf("body = %q", em.TextBody)
	}
	if em.ReplyRecipient() != "billing@example.com" {
		t.Errorf("reply recipient = %q", em.ReplyRecipient())
	}
}

func TestParseBodyNestedParts(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "text/plain",
				Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("plain"))},
			},
			{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<p>html</p>"))},
			},
		},
	}

	html, text := parseBody(payload)
	if text != "plain" {
		t.Errorf("text = %q", text)
	}
	if html != "<p>html</p>" {
		t.Errorf("html = %q", html)
	}
}

func TestBuildRawMessageThreading(t *testing.T) {
	raw := buildRawMessage(&out.SendRequest{
		To:         "bob@example.com",
		Subject:    "Re: Invoice",
		Body:       "Thanks",
		InReplyTo:  "<abc@mail>",
		References: "<root@mail> <abc@mail>",
	})

	for _, want := range []string{
		"To: bob@example.com\r\n",
		"Subject: Re: Invoice\r\n",
		"In-Reply-To: <abc@mail>\r\n",
		"References: <root@mail> <abc@mail>\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("raw missing %q:\n%s", want, raw)
		}
	}
	if !strings.HasSuffix(raw, "\r\n\r\nThanks") {
		t.Errorf("body separation wrong:\n%s", raw)
	}
	if strings.Contains(raw, "Cc:") {
		t.Error("empty Cc must be omitted")
	}
}

func TestWrapErrKinds(t *testing.T) {
	tests := []struct {
		name string
		code int
		want out.ProviderErrorKind
	}{
		{"not found", 404, out.ProviderErrorNotFound},
		{"forbidden", 403, out.ProviderErrorPermission},
		{"unauthorized", 401, out.ProviderErrorPermission},
		{"rate limited", 429, out.ProviderErrorTransient},
		{"server error", 503, out.ProviderErrorTransient},
		{"bad request", 400, out.ProviderErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapErr("op", &googleapi.Error{Code: tt.code})
			var pe *out.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %T", err)
			}
			if pe.Kind != tt.want {
				t.Errorf("kind = %v, want %v", pe.Kind, tt.want)
			}
		})
	}

	err := wrapErr("op", errors.New("plain failure"))
	var pe *out.ProviderError
	if !errors.As(err, &pe) || pe.Kind != out.ProviderErrorUnknown {
		t.Errorf("non-API error should map to unknown, got %v", err)
	}
}
