package simulation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhsd-wmp/platform/internal/shared/events"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// Handler provides HTTP handlers for journey walkthroughs
type Handler struct {
	bus events.EventBus
}

// NewHandler creates a new simulation handler
func NewHandler(bus events.EventBus) *Handler {
	return &Handler{bus: bus}
}

// Routes registers the simulation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/start", h.StartJourney)
	r.Post("/step", h.ExecuteStep)
	r.Post("/complete", h.CompleteJourney)
	r.Get("/parties", h.ListParties)

	return r
}

// StartJourney starts a new walkthrough session
func (h *Handler) StartJourney(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JourneyID    string `json:"journey_id"`
		JourneyTitle string `json:"journey_title"`
		TotalSteps   int    `json:"total_steps"`
		NHSNumber    string `json:"nhs_number,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sessionID := types.NewID()

	systemActorID := types.NewDeterministicID("system", "simulation-api")
	event := events.NewEvent(EventJourneyStarted, "simulation-api", map[string]any{
		"session_id":    sessionID.String(),
		"journey_id":    req.JourneyID,
		"journey_title": req.JourneyTitle,
		"total_steps":   req.TotalSteps,
		"nhs_number":    maskNHSNumber(req.NHSNumber),
	}).WithActor(systemActorID, "system", "")

	if err := h.bus.Publish(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to publish event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sessionID.String(),
		"message":    fmt.Sprintf("Journey '%s' started", req.JourneyTitle),
		"timestamp":  time.Now().UTC(),
	})
}

// ExecuteStep executes a journey step
func (h *Handler) ExecuteStep(w http.ResponseWriter, r *http.Request) {
	var req JourneyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fromParty := getPartyName(req.Step.FromParty)
	toParty := getPartyName(req.Step.ToParty)

	eventType := EventDataRequest
	if req.Step.IsResponse {
		eventType = EventDataResponse
	}

	eventData := map[string]any{
		"session_id":     req.SessionID,
		"journey_id":     req.JourneyID,
		"journey_title":  req.JourneyTitle,
		"step_id":        req.Step.StepID,
		"from_party":     req.Step.FromParty,
		"from_name":      fromParty,
		"to_party":       req.Step.ToParty,
		"to_name":        toParty,
		"action":         req.Step.Action,
		"description":    req.Step.Description,
		"data_exchanged": req.Step.DataExchanged,
		"is_response":    req.Step.IsResponse,
	}

	if req.NHSNumber != "" {
		eventData["nhs_number"] = maskNHSNumber(req.NHSNumber)
	}

	// Deterministic actor per party so journeys replay with stable IDs
	actorID := types.NewDeterministicID("party", req.Step.FromParty)
	actorType := "system"
	if req.Step.FromParty == "service-user" {
		actorType = "service_user"
	}

	event := events.NewEvent(eventType, "simulation-api", eventData).
		WithActor(actorID, actorType, "").
		WithCorrelation(req.SessionID)

	if err := h.bus.Publish(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to publish event")
		return
	}

	var message string
	if req.Step.IsResponse {
		message = fmt.Sprintf("%s -> %s: response sent", fromParty, toParty)
	} else {
		message = fmt.Sprintf("%s -> %s: request sent", fromParty, toParty)
	}

	writeJSON(w, http.StatusOK, JourneyResponse{
		Success:      true,
		AuditEntryID: event.ID,
		Timestamp:    time.Now().UTC(),
		Message:      message,
	})
}

// CompleteJourney marks a walkthrough as completed
func (h *Handler) CompleteJourney(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID    string `json:"session_id"`
		JourneyID    string `json:"journey_id"`
		JourneyTitle string `json:"journey_title"`
		TotalSteps   int    `json:"total_steps"`
		Success      bool   `json:"success"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	systemActorID := types.NewDeterministicID("system", "simulation-api")
	event := events.NewEvent(EventJourneyCompleted, "simulation-api", map[string]any{
		"session_id":    req.SessionID,
		"journey_id":    req.JourneyID,
		"journey_title": req.JourneyTitle,
		"total_steps":   req.TotalSteps,
		"success":       req.Success,
		"completed_at":  time.Now().UTC(),
	}).WithActor(systemActorID, "system", "").
		WithCorrelation(req.SessionID)

	if err := h.bus.Publish(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to publish event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("Journey '%s' completed", req.JourneyTitle),
		"timestamp": time.Now().UTC(),
	})
}

// ListParties returns the parties available to the scripted journeys
func (h *Handler) ListParties(w http.ResponseWriter, r *http.Request) {
	parties := make([]Party, 0, len(Parties))
	for _, p := range Parties {
		if p.ID != "service-user" {
			parties = append(parties, p)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  parties,
		"total": len(parties),
	})
}

// --- Helpers ---

func getPartyName(id string) string {
	if p, ok := Parties[id]; ok {
		return p.Name
	}
	return id
}

func maskNHSNumber(n string) string {
	return types.NHSNumber(n).Masked()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
