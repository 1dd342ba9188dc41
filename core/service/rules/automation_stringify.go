// Package rules implements the rule matching, resolution and execution pipeline.
package rules

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"automation_server/core/domain"
)

// stringifyEmail renders an email for an LLM prompt, with the body truncated
// to maxBody characters. Empty sections are omitted.
func stringifyEmail(email *domain.EmailMessage, maxBody int) string {
	var sb strings.Builder

	sb.WriteString("<from>" + email.From + "</from>\n")
	if email.ReplyTo != "" {
		sb.WriteString("<replyTo>" + email.ReplyTo + "</replyTo>\n")
	}
	if email.Cc != "" {
		sb.WriteString("<cc>" + email.Cc + "</cc>\n")
	}
	if !email.Date.IsZero() {
		sb.WriteString("<date>" + email.Date.Format(time.RFC1123Z) + "</date>\n")
	}
	sb.WriteString("<subject>" + email.Subject + "</subject>\n")
	sb.WriteString("<body>" + truncate(email.Content(), maxBody) + "</body>")

	return sb.String()
}

// truncate cuts s to at most maxLen bytes, backing off to a rune boundary so
// the result stays valid UTF-8 for the prompt.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// quoteOriginal builds the quoted block appended to forwarded messages. The
// original from, date, subject, to and body are always present, whatever the
// lead-in content.
func quoteOriginal(email *domain.EmailMessage) string {
	return fmt.Sprintf(`---------- Forwarded message ----------

From: %s

Date: %s

Subject: %s

To: %s

%s`,
		email.From,
		email.Date.Format(time.RFC1123Z),
		email.Subject,
		email.To,
		email.Content(),
	)
}
