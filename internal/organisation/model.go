package organisation

import (
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// OrganisationType defines the kind of referring organisation
type OrganisationType string

const (
	TypeGPPractice OrganisationType = "GP_PRACTICE"
	TypeMSKService OrganisationType = "MSK_SERVICE"
	TypePharmacy   OrganisationType = "PHARMACY"
)

// Organisation represents a referring organisation known to the platform
type Organisation struct {
	ID      types.ID         `json:"id"`
	ODSCode string           `json:"ods_code"`
	Name    string           `json:"name"`
	Type    OrganisationType `json:"type"`
	Active  bool             `json:"active"`

	// DischargeLetters is tri-state: nil means the organisation has not
	// expressed a preference, which is treated as enabled.
	DischargeLetters *bool `json:"discharge_letters,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SendsDischargeLetters reports whether discharge letters may be sent to
// this organisation. Only an explicit opt-out disables them.
func (o *Organisation) SendsDischargeLetters() bool {
	return o.DischargeLetters == nil || *o.DischargeLetters
}
