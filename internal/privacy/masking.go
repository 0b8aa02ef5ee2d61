package privacy

import (
	"strconv"
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// MaskIdentityKey masks a serialized identity key, keeping a short prefix so
// two keys can still be told apart in logs.
// Example: "BfQdHq3mPzW0..." -> "BfQdHq3m…"
func MaskIdentityKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "…"
}

// MaskRecipientID masks a numeric recipient id keeping the last two digits.
func MaskRecipientID(id int64) string {
	s := strconv.FormatInt(id, 10)
	if len(s) <= 2 {
		return s
	}
	return strings.Repeat("*", len(s)-2) + s[len(s)-2:]
}
