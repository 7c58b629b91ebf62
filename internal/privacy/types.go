// Package privacy guards against NHS numbers and other personal data
// leaving the platform through surfaces that should only ever carry them
// masked, such as the audit trail, event payloads and demo endpoints.
package privacy

import (
	"strings"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// PIIField represents types of personally identifiable information
type PIIField string

const (
	PIIFieldNHSNumber PIIField = "nhs_number"
	PIIFieldName      PIIField = "name"
	PIIFieldPhone     PIIField = "phone"
	PIIFieldEmail     PIIField = "email"
)

// PIIViolation represents a detected PII leak attempt
type PIIViolation struct {
	ID            types.ID  `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Field         PIIField  `json:"field"`
	Location      string    `json:"location"` // API path, event type, etc.
	ActorID       types.ID  `json:"actor_id,omitempty"`
	ActorOrg      string    `json:"actor_org,omitempty"`
	Blocked       bool      `json:"blocked"`
	RawValue      string    `json:"-"` // Never exposed in JSON
	MaskedValue   string    `json:"masked_value"`
	RequestPath   string    `json:"request_path,omitempty"`
	RequestMethod string    `json:"request_method,omitempty"`
	RequestIP     string    `json:"request_ip,omitempty"`
}

// Audit action constants for privacy operations
const (
	AuditActionPIIViolationDetected = "privacy.pii_violation"
	AuditActionPIIViolationBlocked  = "privacy.pii_blocked"
)

// MaskNHSNumber masks an NHS number leaving only the last four digits
func MaskNHSNumber(n string) string {
	digits := digitsOnly(n)
	return types.NHSNumber(digits).Masked()
}

// MaskPhone masks a phone number leaving only the last three digits
func MaskPhone(p string) string {
	digits := digitsOnly(p)
	if len(digits) < 3 {
		return "***"
	}
	return strings.Repeat("*", len(digits)-3) + digits[len(digits)-3:]
}

// MaskEmail masks the local part of an email address
func MaskEmail(e string) string {
	at := strings.Index(e, "@")
	if at <= 0 {
		return "***"
	}
	return e[:1] + "***" + e[at:]
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
