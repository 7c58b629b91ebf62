package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhsd-wmp/platform/internal/referral/discharge"
	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/referral/eligibility"
	"github.com/nhsd-wmp/platform/internal/shared/auth"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/events"
	"github.com/nhsd-wmp/platform/internal/shared/metrics"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the referral module
type Handler struct {
	repo       domain.Repository
	bus        events.EventBus
	evaluator  *eligibility.Evaluator
	calculator *discharge.Calculator
	submitter  *discharge.Submitter
	updater    *discharge.Updater
}

// NewHandler creates a new referral handler
func NewHandler(repo domain.Repository, bus events.EventBus, evaluator *eligibility.Evaluator,
	calculator *discharge.Calculator, submitter *discharge.Submitter, updater *discharge.Updater) *Handler {
	return &Handler{
		repo:       repo,
		bus:        bus,
		evaluator:  evaluator,
		calculator: calculator,
		submitter:  submitter,
		updater:    updater,
	}
}

// Routes registers the referral routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListReferrals)
	r.Post("/", h.CreateReferral)
	r.Get("/eligibility", h.CheckEligibility)
	r.Get("/providers", h.ListProviders)

	// Batch discharge workflows
	r.Route("/discharge", func(r chi.Router) {
		r.Post("/run", h.RunDischarge)
		r.Post("/update", h.RunDischargeUpdate)
	})

	r.Route("/{referralID}", func(r chi.Router) {
		r.Get("/", h.GetReferral)
		r.Get("/audit", h.GetAudit)
		r.Get("/readiness", h.GetReadiness)

		// Contact cascade
		r.Route("/contact", func(r chi.Router) {
			r.Post("/text-message", h.SendTextMessage)
			r.Post("/chat-bot", h.StartChatBotCall)
			r.Post("/chat-bot-transfer", h.TransferChatBot)
			r.Post("/rmc-call", h.StartRmcCall)
			r.Post("/rmc-delay", h.DelayRmcCall)
			r.Post("/failed", h.MarkFailedToContact)
		})

		// Provider track
		r.Post("/select-provider", h.SelectProvider)
		r.Route("/provider", func(r chi.Router) {
			r.Post("/awaiting-trace", h.ProviderAwaitingTrace)
			r.Post("/accept", h.ProviderAccept)
			r.Post("/contacted", h.ProviderContacted)
			r.Post("/decline", h.ProviderDecline)
			r.Post("/reject", h.ProviderReject)
			r.Post("/terminate", h.ProviderTerminate)

			// Provider-reported progress
			r.Post("/start", h.ReportProgrammeStart)
			r.Post("/engagement", h.ReportEngagement)
			r.Post("/weight", h.ReportWeight)
			r.Post("/completion", h.ReportProgrammeCompletion)
		})

		// Terminal and exception paths
		r.Post("/reject", h.Reject)
		r.Post("/cancel", h.Cancel)
		r.Post("/cancel-ereferrals", h.CancelByEreferrals)
		r.Post("/exception", h.MarkException)
		r.Post("/rehabilitate", h.RehabilitateException)

		// Discharge track transitions
		r.Post("/awaiting-discharge", h.SetAwaitingDischarge)
		r.Post("/discharge-hold", h.PlaceDischargeOnHold)
	})

	return r
}

// --- Request/Response types ---

type CreateReferralRequest struct {
	Source              string     `json:"source"`
	NHSNumber           string     `json:"nhs_number"`
	DateOfReferral      time.Time  `json:"date_of_referral"`
	DateOfBirth         *time.Time `json:"date_of_birth,omitempty"`
	GivenName           string     `json:"given_name,omitempty"`
	FamilyName          string     `json:"family_name,omitempty"`
	GPPracticeODSCode   string     `json:"gp_practice_ods_code,omitempty"`
	MSKOrganisationCode string     `json:"msk_organisation_code,omitempty"`
	ConsentToNotifyGP   *bool      `json:"consent_to_notify_gp,omitempty"`
}

type SelectProviderRequest struct {
	ProviderID types.ID `json:"provider_id"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type DateRequest struct {
	Date time.Time `json:"date"`
}

type WeightRequest struct {
	WeightKg float64   `json:"weight_kg"`
	Date     time.Time `json:"date"`
}

// --- Handlers ---

func (h *Handler) ListReferrals(w http.ResponseWriter, r *http.Request) {
	filter := domain.ListFilter{
		NHSNumber: r.URL.Query().Get("nhs_number"),
		OrderBy:   r.URL.Query().Get("order_by"),
		OrderDesc: r.URL.Query().Get("desc") == "true",
	}

	if s := r.URL.Query().Get("source"); s != "" {
		source, err := domain.ParseSource(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Source = &source
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status, err := domain.ParseStatus(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, errors.BadRequest("invalid limit"))
			return
		}
		filter.Limit = limit
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		offset, err := strconv.Atoi(o)
		if err != nil {
			writeError(w, errors.BadRequest("invalid offset"))
			return
		}
		filter.Offset = offset
	}

	referrals, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  referrals,
		"total": total,
	})
}

func (h *Handler) CreateReferral(w http.ResponseWriter, r *http.Request) {
	var req CreateReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	source, err := domain.ParseSource(req.Source)
	if err != nil {
		writeError(w, err)
		return
	}

	nhsNumber, err := types.ParseNHSNumber(req.NHSNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	// Clinical referral routes reject a duplicate outright; the general
	// intake sources get the soft verdict from EvaluateCreation below.
	switch source {
	case domain.SourceGPReferral, domain.SourcePharmacyReferral, domain.SourceMSKReferral:
		if err := h.evaluator.CheckUniqueness(r.Context(), nhsNumber); err != nil {
			writeError(w, err)
			return
		}
	}

	eval, err := h.evaluator.EvaluateCreation(r.Context(), nhsNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	if eval.Verdict != eligibility.VerdictCanCreate {
		writeJSON(w, http.StatusConflict, eval)
		return
	}

	user := h.actor(r)

	ref, err := domain.NewReferral(source, nhsNumber, req.DateOfReferral, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.DateOfBirth != nil {
		ref.DateOfBirth = *req.DateOfBirth
	}
	ref.GivenName = req.GivenName
	ref.FamilyName = req.FamilyName
	ref.GPPracticeODSCode = req.GPPracticeODSCode
	ref.MSKOrganisationCode = req.MSKOrganisationCode
	ref.ConsentToNotifyGP = req.ConsentToNotifyGP

	if err := h.repo.Save(r.Context(), ref); err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordReferralCreated(string(ref.Source))
	h.publish(r.Context(), "referral.created", ref, user)

	writeJSON(w, http.StatusCreated, ref)
}

func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	nhsNumber, err := types.ParseNHSNumber(r.URL.Query().Get("nhs_number"))
	if err != nil {
		writeError(w, err)
		return
	}

	eval, err := h.evaluator.EvaluateCreation(r.Context(), nhsNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "referralID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid referral ID"))
		return
	}

	limit, offset := 50, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil {
			offset = v
		}
	}

	entries, err := h.repo.GetAudit(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": len(entries),
	})
}

func (h *Handler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	readiness, err := h.calculator.Evaluate(ref)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, readiness)
}

func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	providers, err := h.repo.ListProviders(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  providers,
		"total": len(providers),
	})
}

// --- Contact cascade ---

func (h *Handler) SendTextMessage(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	var rule domain.TransitionRule
	switch ref.Status {
	case domain.StatusNew:
		rule = domain.RuleTextMessage1
	case domain.StatusTextMessage1:
		rule = domain.RuleTextMessage2
	case domain.StatusRmcCall, domain.StatusRmcDelayed:
		rule = domain.RuleTextMessage3
	default:
		writeError(w, errors.InvalidState(
			"no further text message is defined from status "+string(ref.Status)))
		return
	}

	h.applyRule(w, r, ref, rule, nil)
}

func (h *Handler) StartChatBotCall(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleChatBotCall1, false)
}

func (h *Handler) TransferChatBot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleChatBotTransfer, false)
}

func (h *Handler) StartRmcCall(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleRmcCall, false)
}

func (h *Handler) DelayRmcCall(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleRmcDelayed, false)
}

func (h *Handler) MarkFailedToContact(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleFailedToContact, false)
}

// --- Provider track ---

func (h *Handler) SelectProvider(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	var req SelectProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	provider, err := h.repo.FindProviderByID(r.Context(), req.ProviderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !provider.Active {
		writeError(w, errors.BadRequest("provider "+provider.Name+" is not active"))
		return
	}

	user := h.actor(r)
	if err := ref.SelectProvider(provider.ID, user.ID); err != nil {
		writeError(w, err)
		return
	}

	h.save(w, r, ref, user)
}

func (h *Handler) ProviderAwaitingTrace(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleProviderAwaitingTrace, false)
}

func (h *Handler) ProviderAccept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleProviderAccepted, false)
}

func (h *Handler) ProviderContacted(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleProviderContacted, false)
}

func (h *Handler) ProviderDecline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleProviderDeclined, true)
}

func (h *Handler) ProviderReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleProviderRejected, true)
}

func (h *Handler) ProviderTerminate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleProviderTerminated, true)
}

func (h *Handler) ReportProgrammeStart(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	var req DateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := ref.StartProgramme(req.Date); err != nil {
		writeError(w, err)
		return
	}

	h.save(w, r, ref, h.actor(r))
}

func (h *Handler) ReportEngagement(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	var req DateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := ref.RecordEngagement(req.Date); err != nil {
		writeError(w, err)
		return
	}

	h.save(w, r, ref, h.actor(r))
}

func (h *Handler) ReportWeight(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	var req WeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := ref.RecordWeight(req.WeightKg, req.Date); err != nil {
		writeError(w, err)
		return
	}

	h.save(w, r, ref, h.actor(r))
}

func (h *Handler) ReportProgrammeCompletion(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	var req DateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := ref.CompleteProgramme(req.Date); err != nil {
		writeError(w, err)
		return
	}

	h.save(w, r, ref, h.actor(r))
}

// --- Terminal and exception paths ---

// Reject routes to the pre- or post-provider-selection rejection depending
// on whether a provider is linked, so the programme outcome is recorded
// consistently with the linkage.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	var req ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.Reason == "" {
		writeError(w, errors.BadRequest("a rejection reason is required"))
		return
	}

	user := h.actor(r)
	var err error
	if ref.HasProvider() {
		err = ref.RejectAfterProviderSelection(req.Reason, user.ID)
	} else {
		err = ref.RejectBeforeProviderSelection(req.Reason, user.ID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.save(w, r, ref, user)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleCancel, true)
}

func (h *Handler) CancelByEreferrals(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleCancelByEreferrals, true)
}

func (h *Handler) MarkException(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleException, true)
}

func (h *Handler) RehabilitateException(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleRehabilitateException, false)
}

// --- Discharge track ---

func (h *Handler) SetAwaitingDischarge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleAwaitingDischarge, false)
}

func (h *Handler) PlaceDischargeOnHold(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.RuleDischargeOnHold, true)
}

func (h *Handler) RunDischarge(w http.ResponseWriter, r *http.Request) {
	touched, err := h.submitter.Run(r.Context())

	resp := map[string]any{
		"submitted": touched,
		"count":     len(touched),
	}
	if err != nil {
		if errors.Is(err, errors.ErrAuthentication) {
			writeError(w, err)
			return
		}
		resp["error"] = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) RunDischargeUpdate(w http.ResponseWriter, r *http.Request) {
	report, err := h.updater.Run(r.Context())

	resp := map[string]any{
		"report": report,
	}
	if err != nil {
		if errors.Is(err, errors.ErrAuthentication) {
			writeError(w, err)
			return
		}
		resp["error"] = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func (h *Handler) getReferral(w http.ResponseWriter, r *http.Request) *domain.Referral {
	id, err := types.ParseID(chi.URLParam(r, "referralID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid referral ID"))
		return nil
	}

	ref, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil
	}

	return ref
}

func (h *Handler) actor(r *http.Request) *auth.User {
	user := auth.GetUser(r.Context())
	if user == nil {
		// For development without auth
		user = &auth.User{
			ID:       types.NewID(),
			UserType: "service",
		}
	}
	return user
}

// transition loads the referral, applies the rule with an optional reason
// from the body and persists the result. withReason handlers accept an
// empty body as no reason.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, rule domain.TransitionRule, withReason bool) {
	ref := h.getReferral(w, r)
	if ref == nil {
		return
	}

	var reason *string
	if withReason {
		var req ReasonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Reason != "" {
			reason = &req.Reason
		}
	}

	h.applyRule(w, r, ref, rule, reason)
}

func (h *Handler) applyRule(w http.ResponseWriter, r *http.Request, ref *domain.Referral,
	rule domain.TransitionRule, reason *string) {
	user := h.actor(r)

	from := ref.Status
	if err := ref.Apply(rule, reason, user.ID); err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordStatusChange(string(from), string(ref.Status))

	h.save(w, r, ref, user)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, ref *domain.Referral, user *auth.User) {
	eventType := "referral.updated"
	if len(ref.PendingAudit()) > 0 {
		eventType = "referral.status_changed"
	}

	if err := h.repo.Update(r.Context(), ref); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), eventType, ref, user)

	writeJSON(w, http.StatusOK, ref)
}

func (h *Handler) publish(ctx context.Context, eventType string, ref *domain.Referral, user *auth.User) {
	if h.bus == nil {
		return
	}

	event := events.NewEvent(eventType, "referral", map[string]any{
		"referral_id": ref.ID,
		"nhs_number":  ref.NHSNumber.Masked(),
		"source":      ref.Source,
		"status":      ref.Status,
	}).WithActor(user.ID, user.UserType, user.OrganisationODS)

	h.bus.Publish(ctx, event)
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
