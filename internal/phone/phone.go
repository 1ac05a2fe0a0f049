package phone

import (
	"fmt"
	"strings"
)

// Normalize canonicalizes a phone number to the 10-digit storage form used
// across conversations and deals: all formatting stripped, NANP country
// prefix removed. Inputs that are not plausible US numbers are returned as
// bare digits so lookups still have a stable key.
func Normalize(raw string) string {
	digits := stripNonDigits(raw)

	// Drop the leading 1 from 11-digit NANP numbers (+1 555 123 4567).
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		return digits[1:]
	}
	return digits
}

// ToE164 renders a normalized number in the +1XXXXXXXXXX form providers expect.
func ToE164(normalized string) string {
	digits := stripNonDigits(normalized)
	if len(digits) == 10 {
		return "+1" + digits
	}
	return "+" + digits
}

// Variants returns the plausible stored formats of a number, most canonical
// first. Inbound payloads and stored deal phones rarely agree on formatting,
// so deal lookups match against the whole set.
func Variants(raw string) []string {
	n := Normalize(raw)
	if len(n) != 10 {
		if n == "" {
			return nil
		}
		return []string{n}
	}

	area, prefix, line := n[:3], n[3:6], n[6:]
	return []string{
		n,
		"1" + n,
		"+1" + n,
		fmt.Sprintf("(%s) %s-%s", area, prefix, line),
		fmt.Sprintf("%s-%s-%s", area, prefix, line),
		fmt.Sprintf("%s.%s.%s", area, prefix, line),
	}
}

// Equal reports whether two raw numbers identify the same line.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
