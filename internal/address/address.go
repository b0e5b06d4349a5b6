// Package address normalizes and validates the email addresses accepted by
// the SMTP receiver and the HTTP API. Mailbox names are constrained to a
// conservative lowercase alphabet so they stay safe as map keys and URL path
// segments.
package address

import (
	"errors"
	"regexp"
	"strings"
)

// mailboxPattern constrains local parts: a lowercase alphanumeric first
// character followed by up to 63 characters from a small punctuation set.
var mailboxPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._+\-]{0,63}$`)

var (
	ErrInvalidAddress = errors.New("invalid email address")
	ErrInvalidDomain  = errors.New("invalid email domain")
	ErrInvalidMailbox = errors.New("invalid mailbox")
)

// DomainMismatchError reports a recipient whose domain does not match the
// configured mail domain.
type DomainMismatchError struct {
	Expected string
}

func (e *DomainMismatchError) Error() string {
	return "email domain must be " + e.Expected
}

// ParseEmail splits an address into its lowercased mailbox and domain parts.
// The split is at the last '@'; a missing, leading, or trailing '@' is an
// ErrInvalidAddress.
func ParseEmail(input string) (mailbox, domain string, err error) {
	value := normalize(input)

	at := strings.LastIndex(value, "@")
	if at <= 0 || at == len(value)-1 {
		return "", "", ErrInvalidAddress
	}

	mailbox = strings.ToLower(strings.TrimSpace(value[:at]))
	domain = strings.ToLower(strings.TrimSpace(value[at+1:]))

	if err := ValidateMailbox(mailbox); err != nil {
		return "", "", err
	}
	if domain == "" {
		return "", "", ErrInvalidDomain
	}

	return mailbox, domain, nil
}

// NormalizeMailbox resolves a recipient to the mailbox key it is stored
// under, plus the rendered address echoed back by the API. Inputs with an
// '@' must match expectedDomain when one is configured; bare mailbox names
// are accepted as-is and rendered with the expected domain appended when
// there is one.
func NormalizeMailbox(input, expectedDomain string) (mailbox, rendered string, err error) {
	value := normalize(input)
	expectedDomain = strings.ToLower(strings.TrimSpace(expectedDomain))

	if strings.Contains(value, "@") {
		mailbox, domain, err := ParseEmail(value)
		if err != nil {
			return "", "", err
		}
		if expectedDomain != "" && domain != expectedDomain {
			return "", "", &DomainMismatchError{Expected: expectedDomain}
		}
		return mailbox, mailbox + "@" + domain, nil
	}

	mailbox = strings.ToLower(strings.TrimSpace(value))
	if err := ValidateMailbox(mailbox); err != nil {
		return "", "", err
	}

	if expectedDomain == "" {
		return mailbox, mailbox, nil
	}
	return mailbox, mailbox + "@" + expectedDomain, nil
}

// ValidateMailbox checks a mailbox name against the allowed pattern.
func ValidateMailbox(mailbox string) error {
	if !mailboxPattern.MatchString(mailbox) {
		return ErrInvalidMailbox
	}
	return nil
}

// normalize trims surrounding whitespace and removes a single pair of angle
// brackets.
func normalize(input string) string {
	value := strings.TrimSpace(input)
	value = strings.TrimPrefix(value, "<")
	value = strings.TrimSuffix(value, ">")
	return value
}
