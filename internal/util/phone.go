package util

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MinPhoneDigits is the shortest number accepted after canonicalization.
const MinPhoneDigits = 6

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// ErrInvalidPhone is returned when a phone number cannot be canonicalized.
var ErrInvalidPhone = errors.New("invalid phone number")

// CanonicalizePhone reduces a phone number to international digits without a
// leading plus. A "00" international prefix is dropped, and a single leading
// zero is replaced by defaultCountryCode when one is configured.
func CanonicalizePhone(raw, defaultCountryCode string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	digits := nonDigitRegex.ReplaceAllString(raw, "")
	if digits == "" {
		return "", fmt.Errorf("%w: no digits found in %q", ErrInvalidPhone, raw)
	}

	cc := nonDigitRegex.ReplaceAllString(defaultCountryCode, "")
	switch {
	case strings.HasPrefix(digits, "00"):
		digits = strings.TrimPrefix(digits, "00")
	case strings.HasPrefix(digits, "0") && cc != "" && !strings.HasPrefix(strings.TrimSpace(raw), "+"):
		digits = cc + strings.TrimPrefix(digits, "0")
	}

	if len(digits) < MinPhoneDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", ErrInvalidPhone, digits, MinPhoneDigits)
	}
	return digits, nil
}
