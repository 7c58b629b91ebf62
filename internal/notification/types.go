// Package notification sends text messages to service users as their
// referral moves through the contact pathway. Messages are composed from
// per-step templates and dispatched through a pluggable SMS provider.
package notification

import (
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// MessageStatus represents message delivery status
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message is one text message queued for a service user
type Message struct {
	ID         types.ID      `json:"id"`
	ReferralID types.ID      `json:"referral_id"`
	Step       int           `json:"step"`
	Body       string        `json:"body"`
	Phone      string        `json:"phone,omitempty"`
	Status     MessageStatus `json:"status"`

	EventID       string `json:"event_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	SentAt       *time.Time `json:"sent_at,omitempty"`
	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeliveryReceipt represents a delivery confirmation from the provider
type DeliveryReceipt struct {
	MessageID    types.ID      `json:"message_id"`
	Status       MessageStatus `json:"status"`
	Timestamp    time.Time     `json:"timestamp"`
	Provider     string        `json:"provider"`
	ProviderID   string        `json:"provider_id,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Stats represents message delivery statistics
type Stats struct {
	TotalQueued  int64         `json:"total_queued"`
	TotalSent    int64         `json:"total_sent"`
	TotalFailed  int64         `json:"total_failed"`
	ByStep       map[int]int64 `json:"by_step"`
	DeliveryRate float64       `json:"delivery_rate"`
}

// StepTemplates holds the message body per contact-pathway step. The
// third message invites the service user to respond before the referral
// is closed as failed to contact.
type StepTemplates struct {
	Step1 string
	Step2 string
	Step3 string
}

// DefaultStepTemplates returns the standard message wording
func DefaultStepTemplates() StepTemplates {
	return StepTemplates{
		Step1: "You have been referred to the NHS Weight Management Programme. We will be in touch shortly to help you choose a provider.",
		Step2: "We recently contacted you about the NHS Weight Management Programme. Please reply or call us to continue with your referral.",
		Step3: "Final reminder about your NHS Weight Management Programme referral. If we do not hear from you, your referral will be closed.",
	}
}

// ForStep returns the template body for a contact step
func (t StepTemplates) ForStep(step int) (string, bool) {
	switch step {
	case 1:
		return t.Step1, t.Step1 != ""
	case 2:
		return t.Step2, t.Step2 != ""
	case 3:
		return t.Step3, t.Step3 != ""
	default:
		return "", false
	}
}
