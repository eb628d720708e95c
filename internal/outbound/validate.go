package outbound

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	digitRe = regexp.MustCompile(`^[0-9]{10,15}$`)
)

// ValidateRecipient accepts a phone number (10-15 digits, punctuation and a
// leading + tolerated) or an email address. Anything else is ErrBadRecipient.
func ValidateRecipient(recipient string) error {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return fmt.Errorf("%w: empty", ErrBadRecipient)
	}
	if strings.ContainsRune(r, '@') {
		if emailRe.MatchString(r) {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrBadRecipient, recipient)
	}
	var digits strings.Builder
	for _, c := range strings.TrimPrefix(r, "+") {
		switch {
		case c >= '0' && c <= '9':
			digits.WriteRune(c)
		case c == ' ' || c == '-' || c == '(' || c == ')' || c == '.':
			// punctuation tolerated
		default:
			return fmt.Errorf("%w: %q", ErrBadRecipient, recipient)
		}
	}
	if digitRe.MatchString(digits.String()) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrBadRecipient, recipient)
}
