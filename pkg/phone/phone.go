package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Normalize returns raw in E.164 form, or "" when it cannot be parsed.
// Numbers without a leading + or 00 are read in defaultRegion.
func Normalize(raw, defaultRegion string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}

	num, err := phonenumbers.Parse(s, strings.ToUpper(defaultRegion))
	if err != nil {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// FromWhatsAppID converts a Cloud API wa_id (country code without +) to E.164.
func FromWhatsAppID(waID string) string {
	waID = strings.TrimSpace(waID)
	if waID == "" {
		return ""
	}
	if !strings.HasPrefix(waID, "+") {
		waID = "+" + waID
	}
	return Normalize(waID, "")
}

// ToWhatsAppID strips the leading + the Cloud API does not expect.
func ToWhatsAppID(e164 string) string {
	return strings.TrimPrefix(e164, "+")
}
