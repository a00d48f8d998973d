package utils

import "strings"

// PhoneDigits is the number of trailing digits that identify a phone.
// Country and trunk prefixes ("+380", "0") vary between sources, the
// subscriber tail does not.
const PhoneDigits = 9

// NormalizePhone strips every non-digit and keeps the last nine digits.
// Shorter inputs are returned as their digits; an input without digits
// normalizes to "".
//
//	NormalizePhone("+380 (63) 349-39-39") // "633493939"
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) > PhoneDigits {
		d = d[len(d)-PhoneDigits:]
	}
	return d
}

// SamePhone reports whether two raw phone strings normalize to the same,
// non-empty value.
func SamePhone(a, b string) bool {
	na := NormalizePhone(a)
	return na != "" && na == NormalizePhone(b)
}
