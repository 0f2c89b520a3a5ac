package workflow

import "strings"

// ValidatePhoneNumber reports whether raw is a syntactically valid
// Philippine mobile number: after stripping non-digits, either 12 digits
// starting with the 63 country code or 11 digits starting with 0. It does
// not check that the number is wallet-registered.
func ValidatePhoneNumber(raw string) bool {
	digits := digitsOnly(raw)
	return (strings.HasPrefix(digits, "63") && len(digits) == 12) ||
		(strings.HasPrefix(digits, "0") && len(digits) == 11)
}

// NormalizePhoneNumber converts a valid number to its digit-only form with
// the 63 country code, e.g. "0912 345 6789" -> "639123456789".
func NormalizePhoneNumber(raw string) (string, error) {
	if !ValidatePhoneNumber(raw) {
		return "", ErrInvalidPhoneNumber
	}
	digits := digitsOnly(raw)
	if strings.HasPrefix(digits, "0") {
		return "63" + digits[1:], nil
	}
	return digits, nil
}

// FormatPhoneNumber reformats digits progressively into "+63 XXX XXX XXXX"
// grouping as the user types. Purely cosmetic: partial input produces a
// partial grouping, and input that is neither 63- nor 0-prefixed is
// returned unchanged.
func FormatPhoneNumber(raw string) string {
	digits := digitsOnly(raw)

	switch {
	case strings.HasPrefix(digits, "63"):
		if len(digits) > 12 {
			digits = digits[:12]
		}
		if len(digits) < 3 {
			return "+" + digits
		}
		out := "+63 " + digits[2:min(5, len(digits))]
		if len(digits) > 5 {
			out += " " + digits[5:min(8, len(digits))]
		}
		if len(digits) > 8 {
			out += " " + digits[8:]
		}
		return out

	case strings.HasPrefix(digits, "0"):
		if len(digits) > 11 {
			digits = digits[:11]
		}
		out := "+63 " + digits[1:min(4, len(digits))]
		if len(digits) > 4 {
			out += " " + digits[4:min(7, len(digits))]
		}
		if len(digits) > 7 {
			out += " " + digits[7:]
		}
		return out
	}

	return raw
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
