package utils

import "strings"

// NormalizePhone reduces a phone number to its digits. Inbound events carry
// phones in whatever shape the external platform uses ("+55 11 91234-5678",
// "5511912345678@s.whatsapp.net"); contacts and leads are keyed by the
// digit-only form.
func NormalizePhone(raw string) string {
	// Strip a channel suffix like "@s.whatsapp.net" before digit filtering
	// so the host part's digits do not leak into the number.
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
