package calls

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone converts raw into E.164.
//
// 10 digits are treated as North American, 11 digits with a leading 1 get a
// "+", and "+" or "00" prefixed input is taken as international. The result
// must be a possible number for its country.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidPhone
	}

	intl := strings.HasPrefix(s, "+")
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", ErrInvalidPhone
		}
	}
	digits := b.String()
	if !intl && strings.HasPrefix(digits, "00") {
		intl = true
		digits = digits[2:]
	}

	var candidate string
	switch {
	case intl:
		candidate = "+" + digits
	case len(digits) == 10:
		candidate = "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		candidate = "+" + digits
	default:
		return "", ErrInvalidPhone
	}

	num, err := phonenumbers.Parse(candidate, "")
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
