package domain

import (
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// StatusAudit is one row of the referral's status history. Entries are
// append-only and written in the same transaction as the status change
// they describe.
type StatusAudit struct {
	ID         types.ID  `json:"id"`
	ReferralID types.ID  `json:"referral_id"`
	Status     Status    `json:"status"`
	Reason     *string   `json:"reason,omitempty"`
	ActorID    types.ID  `json:"actor_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Provider is a programme provider a referral can be placed with
type Provider struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	ODSCode   string    `json:"ods_code"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
