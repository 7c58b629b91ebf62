// Package simulation drives scripted walkthroughs of the referral
// pathway for demo and training sessions. Steps publish events on the
// bus so downstream consumers (audit trail, dashboards, the text-message
// sender) behave exactly as they would for real traffic.
package simulation

import (
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// JourneyStep represents one step of a scripted referral journey
type JourneyStep struct {
	StepID        string         `json:"step_id"`
	FromParty     string         `json:"from_party"`
	ToParty       string         `json:"to_party"`
	Action        string         `json:"action"`
	Description   string         `json:"description"`
	DataExchanged []string       `json:"data_exchanged"`
	IsResponse    bool           `json:"is_response"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// JourneyRequest represents a request to run a journey step
type JourneyRequest struct {
	JourneyID    string      `json:"journey_id"`
	JourneyTitle string      `json:"journey_title"`
	Step         JourneyStep `json:"step"`
	SessionID    string      `json:"session_id"`
	NHSNumber    string      `json:"nhs_number,omitempty"`
}

// JourneyResponse represents the response from a journey step
type JourneyResponse struct {
	Success      bool      `json:"success"`
	AuditEntryID string    `json:"audit_entry_id"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
}

// JourneySession represents an active walkthrough session
type JourneySession struct {
	ID           types.ID  `json:"id"`
	JourneyID    string    `json:"journey_id"`
	JourneyTitle string    `json:"journey_title"`
	StartedAt    time.Time `json:"started_at"`
	CurrentStep  int       `json:"current_step"`
	TotalSteps   int       `json:"total_steps"`
	NHSNumber    string    `json:"nhs_number,omitempty"`
}

// Party represents a participant in the referral pathway
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // service_user, referrer, platform, provider
}

// Predefined parties for the scripted journeys
var Parties = map[string]Party{
	"service-user": {
		ID:   "service-user",
		Name: "Service User",
		Type: "service_user",
	},
	"gp-practice": {
		ID:   "gp-practice",
		Name: "GP Practice",
		Type: "referrer",
	},
	"community-pharmacy": {
		ID:   "community-pharmacy",
		Name: "Community Pharmacy",
		Type: "referrer",
	},
	"msk-service": {
		ID:   "msk-service",
		Name: "Musculoskeletal Service",
		Type: "referrer",
	},
	"referral-centre": {
		ID:   "referral-centre",
		Name: "Referral Management Centre",
		Type: "platform",
	},
	"programme-provider": {
		ID:   "programme-provider",
		Name: "Programme Provider",
		Type: "provider",
	},
	"document-exchange": {
		ID:   "document-exchange",
		Name: "Document Exchange Service",
		Type: "platform",
	},
}

// Event types for journey walkthroughs
const (
	EventJourneyStarted      = "simulation.started"
	EventJourneyStepExecuted = "simulation.step_executed"
	EventJourneyCompleted    = "simulation.completed"
	EventDataRequest         = "simulation.data_request"
	EventDataResponse        = "simulation.data_response"
)
