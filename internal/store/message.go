package store

import (
	"regexp"
	"strings"
	"time"
)

// previewLength is the maximum number of characters in a summary preview
// before truncation.
const previewLength = 120

// htmlTagPattern matches HTML tags, including ones spanning multiple lines.
var htmlTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// Message is the retained unit: one delivered mail for one recipient.
// Text, Html, and Headers are omitted from JSON when empty.
type Message struct {
	ID         string              `json:"id"`
	Mailbox    string              `json:"mailbox"`
	To         string              `json:"to"`
	From       string              `json:"from"`
	Subject    string              `json:"subject"`
	Date       time.Time           `json:"date"`
	Text       string              `json:"text,omitempty"`
	Html       string              `json:"html,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	ReceivedAt time.Time           `json:"received_at"`
}

// MessageSummary is the projection returned by list responses.
type MessageSummary struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Date       time.Time `json:"date"`
	HasHTML    bool      `json:"has_html"`
	Preview    string    `json:"preview"`
	ReceivedAt time.Time `json:"received_at"`
}

// Summary projects the message into its list representation.
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		ID:         m.ID,
		From:       m.From,
		Subject:    m.Subject,
		Date:       m.Date,
		HasHTML:    strings.TrimSpace(m.Html) != "",
		Preview:    buildPreview(m.Text, m.Html),
		ReceivedAt: m.ReceivedAt,
	}
}

// buildPreview derives the summary preview: the text body, or failing that
// the HTML body with tags replaced by spaces, whitespace-collapsed and
// truncated to previewLength characters with a trailing ellipsis.
func buildPreview(text, html string) string {
	source := strings.TrimSpace(text)
	if source == "" {
		source = strings.TrimSpace(htmlTagPattern.ReplaceAllString(html, " "))
	}
	source = strings.Join(strings.Fields(source), " ")

	runes := []rune(source)
	if len(runes) <= previewLength {
		return source
	}
	return string(runes[:previewLength]) + "..."
}
