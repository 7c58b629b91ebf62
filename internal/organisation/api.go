package organisation

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nhsd-wmp/platform/internal/shared/auth"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/events"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the organisation directory
type Handler struct {
	repo *Repository
	bus  events.EventBus
}

// NewHandler creates a new organisation handler
func NewHandler(repo *Repository, bus events.EventBus) *Handler {
	return &Handler{repo: repo, bus: bus}
}

// Routes registers the organisation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListOrganisations)
	r.Post("/", h.CreateOrganisation)

	r.Route("/{odsCode}", func(r chi.Router) {
		r.Get("/", h.GetOrganisation)
		r.Put("/discharge-letters", h.SetDischargeLetters)
	})

	return r
}

// CreateOrganisationRequest is the request to register an organisation
type CreateOrganisationRequest struct {
	ODSCode          string           `json:"ods_code"`
	Name             string           `json:"name"`
	Type             OrganisationType `json:"type"`
	DischargeLetters *bool            `json:"discharge_letters,omitempty"`
}

// DischargeLettersRequest carries an organisation's discharge-letter
// preference
type DischargeLettersRequest struct {
	Enabled bool `json:"enabled"`
}

// ListOrganisations lists registered organisations
func (h *Handler) ListOrganisations(w http.ResponseWriter, r *http.Request) {
	var orgType *OrganisationType
	if t := r.URL.Query().Get("type"); t != "" {
		typ := OrganisationType(t)
		orgType = &typ
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	orgs, err := h.repo.List(r.Context(), orgType, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  orgs,
		"total": len(orgs),
	})
}

// GetOrganisation gets an organisation by ODS code
func (h *Handler) GetOrganisation(w http.ResponseWriter, r *http.Request) {
	odsCode := chi.URLParam(r, "odsCode")
	if odsCode == "" {
		writeError(w, errors.BadRequest("ODS code is required"))
		return
	}

	org, err := h.repo.GetByODSCode(r.Context(), odsCode)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, org)
}

// CreateOrganisation registers a referring organisation
func (h *Handler) CreateOrganisation(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganisationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.ODSCode == "" || req.Name == "" {
		writeError(w, errors.BadRequest("ods_code and name are required"))
		return
	}
	switch req.Type {
	case TypeGPPractice, TypeMSKService, TypePharmacy:
	default:
		writeError(w, errors.BadRequest("unknown organisation type: "+string(req.Type)))
		return
	}

	org := &Organisation{
		ID:               types.NewID(),
		ODSCode:          req.ODSCode,
		Name:             req.Name,
		Type:             req.Type,
		Active:           true,
		DischargeLetters: req.DischargeLetters,
	}

	if err := h.repo.Create(r.Context(), org); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "organisation.created", map[string]any{
		"ods_code": org.ODSCode,
		"name":     org.Name,
		"type":     org.Type,
	})

	writeJSON(w, http.StatusCreated, org)
}

// SetDischargeLetters records whether discharge letters may be sent to
// the organisation
func (h *Handler) SetDischargeLetters(w http.ResponseWriter, r *http.Request) {
	odsCode := chi.URLParam(r, "odsCode")

	var req DischargeLettersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.repo.SetDischargeLetters(r.Context(), odsCode, req.Enabled); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "organisation.updated", map[string]any{
		"ods_code":          odsCode,
		"discharge_letters": req.Enabled,
	})

	org, err := h.repo.GetByODSCode(r.Context(), odsCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *Handler) publish(r *http.Request, eventType string, data map[string]any) {
	if h.bus == nil {
		return
	}

	actorID := types.NewID()
	actorType := "service"
	actorOrg := ""
	if user := auth.GetUser(r.Context()); user != nil {
		actorID = user.ID
		actorType = user.UserType
		actorOrg = user.OrganisationODS
	}

	event := events.NewEvent(eventType, "organisation", data).
		WithActor(actorID, actorType, actorOrg)
	h.bus.Publish(r.Context(), event)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
