// Package mail parses raw RFC 822 messages received over SMTP into the
// fields the store keeps: the From, Subject, and Date scalars, the collected
// text and HTML bodies, and the full header map.
package mail

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
)

// Parsed holds the extracted pieces of one message.
type Parsed struct {
	From    string
	Subject string
	Date    time.Time
	Text    string
	Html    string
	Headers map[string][]string
}

// wordDecoder decodes RFC 2047 encoded words in header values, using the
// go-message charset table so header and body charsets stay in sync.
var wordDecoder = mime.WordDecoder{CharsetReader: charset.Reader}

// Parse extracts the header map, scalar fields, and text bodies from a raw
// message. Undecodable header values are kept verbatim and undecodable body
// parts are skipped; only a structurally unreadable message is an error.
func Parse(raw []byte) (*Parsed, error) {
	fields := scanHeaderFields(raw)

	parsed := &Parsed{Headers: make(map[string][]string, len(fields))}

	var fromSet, subjectSet, dateSet bool
	var dateValue string
	for _, f := range fields {
		parsed.Headers[f.name] = append(parsed.Headers[f.name], f.value)

		switch {
		case !fromSet && strings.EqualFold(f.name, "From"):
			parsed.From = strings.TrimSpace(f.value)
			fromSet = true
		case !subjectSet && strings.EqualFold(f.name, "Subject"):
			parsed.Subject = strings.TrimSpace(f.value)
			subjectSet = true
		case !dateSet && strings.EqualFold(f.name, "Date"):
			dateValue = f.value
			dateSet = true
		}
	}
	parsed.Date = parseDate(dateValue)

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	var textParts, htmlParts []string
	if entity != nil {
		collectBodyParts(entity, &textParts, &htmlParts)
	}
	parsed.Text = strings.Join(textParts, "\n")
	parsed.Html = strings.Join(htmlParts, "\n")

	return parsed, nil
}

// headerField is one unfolded header line in wire order.
type headerField struct {
	name  string
	value string
}

// scanHeaderFields walks the header block of a raw message: lines up to the
// first blank line, with continuation lines unfolded using a single space.
// Names keep their original case; values are RFC 2047 decoded when possible.
func scanHeaderFields(raw []byte) []headerField {
	header := raw
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		header = raw[:crlf]
	case lf >= 0:
		header = raw[:lf]
	}

	var fields []headerField
	for _, line := range strings.Split(string(header), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			break
		}

		if line[0] == ' ' || line[0] == '\t' {
			if len(fields) == 0 {
				continue
			}
			fields[len(fields)-1].value += " " + strings.TrimSpace(line)
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		if name == "" {
			continue
		}
		fields = append(fields, headerField{
			name:  name,
			value: strings.TrimSpace(line[colon+1:]),
		})
	}

	for i := range fields {
		fields[i].value = decodeHeaderValue(fields[i].value)
	}
	return fields
}

// decodeHeaderValue decodes RFC 2047 encoded words, falling back to the raw
// value when decoding fails.
func decodeHeaderValue(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// parseDate parses an RFC 5322 date header, falling back to the current UTC
// time when the header is absent or unparsable.
func parseDate(value string) time.Time {
	now := time.Now().UTC()
	if value == "" {
		return now
	}
	t, err := netmail.ParseDate(value)
	if err != nil {
		return now
	}
	return t.UTC()
}

// collectBodyParts walks the MIME tree depth-first, gathering trimmed
// non-empty text/plain and text/html leaves. Parts that fail to decode are
// skipped, and a malformed container yields whatever was collected before it
// broke.
func collectBodyParts(entity *message.Entity, textParts, htmlParts *[]string) {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
				return
			}
			if part == nil {
				return
			}
			collectBodyParts(part, textParts, htmlParts)
		}
	}

	contentType, _, err := entity.Header.ContentType()
	if err != nil {
		return
	}
	contentType = strings.ToLower(contentType)
	if contentType != "text/plain" && contentType != "text/html" {
		return
	}

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return
	}

	if contentType == "text/plain" {
		*textParts = append(*textParts, trimmed)
	} else {
		*htmlParts = append(*htmlParts, trimmed)
	}
}
