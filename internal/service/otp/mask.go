package otp

import (
	"strings"
)

// MaskContact keeps first and last two characters: "9876543210" -> "98******10"
// Contacts of 4 characters or shorter are masked completely
func MaskContact(contact string) string {
	r := []rune(contact)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}

	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}

// MaskEmail masks local part and keeps domain: "johndoe@x.com" -> "jo****e@x.com", "ab@x.com" -> "a*@x.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return MaskContact(email)
	}

	local, domain := []rune(email[:at]), email[at:]
	switch {
	case len(local) == 0:
		return domain
	case len(local) <= 2:
		return string(local[:1]) + strings.Repeat("*", len(local)-1) + domain
	default:
		return string(local[:2]) + strings.Repeat("*", len(local)-3) + string(local[len(local)-1:]) + domain
	}
}
