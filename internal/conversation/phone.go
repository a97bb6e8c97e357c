package conversation

import "strings"

// DefaultCountryCode is prefixed to bare national numbers.
const DefaultCountryCode = "34"

const nationalNumberLength = 9

// NormalizePhone reduces a phone number or WhatsApp JID to digits with a
// country prefix, so "+34 612 345 678", "0034612345678", "612345678" and
// "34612345678@s.whatsapp.net" all thread together.
func NormalizePhone(phone string) string {
	if at := strings.IndexByte(phone, '@'); at >= 0 {
		phone = phone[:at]
	}
	if colon := strings.IndexByte(phone, ':'); colon >= 0 {
		phone = phone[:colon]
	}
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	d = strings.TrimPrefix(d, "00")
	if len(d) == nationalNumberLength {
		return DefaultCountryCode + d
	}
	return d
}
