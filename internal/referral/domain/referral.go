package domain

import (
	"fmt"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// ReferralSource identifies which route a referral arrived through. The
// source is fixed at creation and never changes.
type ReferralSource string

const (
	SourceGPReferral           ReferralSource = "GpReferral"
	SourcePharmacyReferral     ReferralSource = "PharmacyReferral"
	SourceMSKReferral          ReferralSource = "MskReferral"
	SourceSelfReferral         ReferralSource = "SelfReferral"
	SourceGeneralReferral      ReferralSource = "GeneralReferral"
	SourceElectiveCareReferral ReferralSource = "ElectiveCareReferral"
)

var allSources = []ReferralSource{
	SourceGPReferral, SourcePharmacyReferral, SourceMSKReferral,
	SourceSelfReferral, SourceGeneralReferral, SourceElectiveCareReferral,
}

// ParseSource converts a raw string to a ReferralSource
func ParseSource(s string) (ReferralSource, error) {
	for _, src := range allSources {
		if ReferralSource(s) == src {
			return src, nil
		}
	}
	return "", errors.InvalidSource(fmt.Sprintf("unknown referral source %q", s))
}

// ProgrammeOutcome records how the service user's participation in the
// programme ended. It feeds discharge readiness and document selection.
type ProgrammeOutcome string

const (
	OutcomeNotSet                          ProgrammeOutcome = "NotSet"
	OutcomeComplete                        ProgrammeOutcome = "Complete"
	OutcomeDidNotComplete                  ProgrammeOutcome = "DidNotComplete"
	OutcomeDidNotCommence                  ProgrammeOutcome = "DidNotCommence"
	OutcomeRejectedBeforeProviderSelection ProgrammeOutcome = "RejectedBeforeProviderSelection"
	OutcomeRejectedAfterProviderSelection  ProgrammeOutcome = "RejectedAfterProviderSelection"
)

// Referral is the aggregate root for a single programme referral. All
// status changes go through Apply so that every mutation is guarded by a
// transition rule and leaves an audit entry behind.
type Referral struct {
	ID     types.ID       `json:"id"`
	Source ReferralSource `json:"source"`

	NHSNumber   types.NHSNumber `json:"nhs_number"`
	DateOfBirth time.Time       `json:"date_of_birth"`
	GivenName   string          `json:"given_name"`
	FamilyName  string          `json:"family_name"`

	Status           Status           `json:"status"`
	StatusReason     *string          `json:"status_reason,omitempty"`
	ProgrammeOutcome ProgrammeOutcome `json:"programme_outcome"`

	DateOfReferral          time.Time  `json:"date_of_referral"`
	DateOfProviderSelection *time.Time `json:"date_of_provider_selection,omitempty"`
	DateStartedProgramme    *time.Time `json:"date_started_programme,omitempty"`
	DateCompletedProgramme  *time.Time `json:"date_completed_programme,omitempty"`
	// DateOfLastEngagement holds the zero time until the provider first
	// reports engagement.
	DateOfLastEngagement time.Time `json:"date_of_last_engagement,omitempty"`

	FirstRecordedWeight *float64   `json:"first_recorded_weight,omitempty"`
	DateOfFirstWeight   *time.Time `json:"date_of_first_weight,omitempty"`
	LastRecordedWeight  *float64   `json:"last_recorded_weight,omitempty"`
	DateOfLastWeight    *time.Time `json:"date_of_last_weight,omitempty"`

	// GPPracticeODSCode is the registered practice the discharge letter
	// goes to. MSKOrganisationCode is only set on MSK referrals.
	GPPracticeODSCode   string `json:"gp_practice_ods_code,omitempty"`
	MSKOrganisationCode string `json:"msk_organisation_code,omitempty"`

	ProviderID *types.ID `json:"provider_id,omitempty"`

	// ConsentToNotifyGP is tri-state: nil means the service user was not
	// asked, which is treated the same as consenting.
	ConsentToNotifyGP *bool `json:"consent_to_notify_gp,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// pendingAudit collects the audit entries produced by mutations since
	// the aggregate was loaded. The repository persists them in the same
	// transaction as the status change.
	pendingAudit []StatusAudit
}

// NewReferral creates a referral in status New and records the creation
// audit entry. The caller supplies a non-default actor identity.
func NewReferral(source ReferralSource, nhsNumber types.NHSNumber, dateOfReferral time.Time, actorID types.ID) (*Referral, error) {
	if !nhsNumber.IsValid() {
		return nil, errors.BadRequest(fmt.Sprintf("invalid NHS number %s", nhsNumber.Masked()))
	}
	if actorID.IsZero() {
		return nil, errors.BadRequest("actor identity is required")
	}
	if dateOfReferral.IsZero() {
		return nil, errors.BadRequest("date of referral is required")
	}

	now := time.Now().UTC()
	r := &Referral{
		ID:               types.NewID(),
		Source:           source,
		NHSNumber:        nhsNumber,
		Status:           StatusNew,
		ProgrammeOutcome: OutcomeNotSet,
		DateOfReferral:   dateOfReferral,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.recordAudit(StatusNew, nil, actorID, now)
	return r, nil
}

// IsActive reports whether the referral can still change state
func (r *Referral) IsActive() bool {
	return !r.Status.IsTerminal()
}

// HasProvider reports whether a provider has been linked
func (r *Referral) HasProvider() bool {
	return r.ProviderID != nil && !r.ProviderID.IsZero()
}

// NotifyGP reports whether the discharge workflow may send documents to
// the registered practice. Absence of a stated preference means notify.
func (r *Referral) NotifyGP() bool {
	return r.ConsentToNotifyGP == nil || *r.ConsentToNotifyGP
}

// Apply performs a guarded status transition. The provider-linkage
// consistency check runs first so a linkage violation surfaces as the
// provider-consistency error whatever the current status is; the terminal
// invariant and the rule's accepted set are asserted after it. On success
// it mutates the status and appends an audit entry. The caller persists
// the aggregate and pending audit atomically afterwards.
func (r *Referral) Apply(rule TransitionRule, reason *string, actorID types.ID) error {
	if actorID.IsZero() {
		return errors.BadRequest("actor identity is required")
	}
	switch rule.Provider {
	case ProviderRequired:
		if !r.HasProvider() {
			return errors.ProviderConsistency(fmt.Sprintf(
				"cannot %s: referral %s has no linked provider", rule.Name, r.ID))
		}
	case ProviderForbidden:
		if r.HasProvider() {
			return errors.ProviderConsistency(fmt.Sprintf(
				"cannot %s: referral %s already has a linked provider", rule.Name, r.ID))
		}
	}
	if !r.IsActive() {
		return errors.InvalidState(fmt.Sprintf(
			"cannot %s: referral %s is in terminal status %s", rule.Name, r.ID, r.Status))
	}
	if !statusIn(r.Status, rule.Accepted) {
		return errors.InvalidState(fmt.Sprintf(
			"cannot %s: referral %s is in status %s, accepted statuses are: %s",
			rule.Name, r.ID, r.Status, formatStatuses(rule.Accepted)))
	}

	now := time.Now().UTC()
	r.Status = rule.Target(r.Source)
	r.StatusReason = reason
	if rule.SetsCompletionDate && r.DateCompletedProgramme == nil {
		completed := now
		r.DateCompletedProgramme = &completed
	}
	r.UpdatedAt = now
	r.recordAudit(r.Status, reason, actorID, now)
	return nil
}

// SelectProvider links a provider and moves the referral onto the provider
// track. The link and the transition are a single mutation.
func (r *Referral) SelectProvider(providerID types.ID, actorID types.ID) error {
	if providerID.IsZero() {
		return errors.BadRequest("provider identity is required")
	}
	if err := r.Apply(RuleSelectProvider, nil, actorID); err != nil {
		return err
	}
	r.ProviderID = &providerID
	selected := r.UpdatedAt
	r.DateOfProviderSelection = &selected
	return nil
}

// RejectBeforeProviderSelection rejects the referral with a reason before
// any provider has been linked
func (r *Referral) RejectBeforeProviderSelection(reason string, actorID types.ID) error {
	if err := r.Apply(RuleRejectBeforeProviderSelection, &reason, actorID); err != nil {
		return err
	}
	r.ProgrammeOutcome = OutcomeRejectedBeforeProviderSelection
	return nil
}

// RejectAfterProviderSelection rejects the referral with a reason after a
// provider has been linked
func (r *Referral) RejectAfterProviderSelection(reason string, actorID types.ID) error {
	if err := r.Apply(RuleRejectAfterProviderSelection, &reason, actorID); err != nil {
		return err
	}
	r.ProgrammeOutcome = OutcomeRejectedAfterProviderSelection
	return nil
}

// StartProgramme records the provider-reported programme start. The first
// reported date is kept, later reports are ignored.
func (r *Referral) StartProgramme(at time.Time) error {
	if !r.IsActive() {
		return errors.InvalidState(fmt.Sprintf(
			"cannot record programme start: referral %s is in terminal status %s", r.ID, r.Status))
	}
	if at.IsZero() {
		return errors.BadRequest("programme start date is required")
	}
	if r.DateStartedProgramme == nil {
		started := at
		r.DateStartedProgramme = &started
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// CompleteProgramme records the provider-reported completion date ahead of
// discharge evaluation. It does not change the status.
func (r *Referral) CompleteProgramme(at time.Time) error {
	if !r.IsActive() {
		return errors.InvalidState(fmt.Sprintf(
			"cannot record programme completion: referral %s is in terminal status %s", r.ID, r.Status))
	}
	if at.IsZero() {
		return errors.BadRequest("programme completion date is required")
	}
	if r.DateStartedProgramme == nil {
		return errors.InvalidState(fmt.Sprintf(
			"cannot record programme completion: referral %s has no programme start", r.ID))
	}
	completed := at
	r.DateCompletedProgramme = &completed
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordEngagement updates the last-engagement date reported by the
// provider. It is not a status transition and leaves no audit entry.
func (r *Referral) RecordEngagement(at time.Time) error {
	if !r.IsActive() {
		return errors.InvalidState(fmt.Sprintf(
			"cannot record engagement: referral %s is in terminal status %s", r.ID, r.Status))
	}
	if at.After(r.DateOfLastEngagement) {
		r.DateOfLastEngagement = at
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// RecordWeight records a weight submission from the provider, keeping the
// first submission fixed and the last submission rolling forward.
func (r *Referral) RecordWeight(kg float64, at time.Time) error {
	if !r.IsActive() {
		return errors.InvalidState(fmt.Sprintf(
			"cannot record weight: referral %s is in terminal status %s", r.ID, r.Status))
	}
	if kg <= 0 {
		return errors.BadRequest(fmt.Sprintf("weight must be positive, got %.2f", kg))
	}
	if r.FirstRecordedWeight == nil {
		w, t := kg, at
		r.FirstRecordedWeight = &w
		r.DateOfFirstWeight = &t
	}
	w, t := kg, at
	r.LastRecordedWeight = &w
	r.DateOfLastWeight = &t
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// SetProgrammeOutcome records the outcome reported by the provider
func (r *Referral) SetProgrammeOutcome(outcome ProgrammeOutcome) error {
	if !r.IsActive() {
		return errors.InvalidState(fmt.Sprintf(
			"cannot set outcome: referral %s is in terminal status %s", r.ID, r.Status))
	}
	r.ProgrammeOutcome = outcome
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// PendingAudit returns the audit entries produced since load
func (r *Referral) PendingAudit() []StatusAudit {
	return r.pendingAudit
}

// ClearPendingAudit is called by the repository after a successful persist
func (r *Referral) ClearPendingAudit() {
	r.pendingAudit = nil
}

func (r *Referral) recordAudit(status Status, reason *string, actorID types.ID, at time.Time) {
	r.pendingAudit = append(r.pendingAudit, StatusAudit{
		ID:         types.NewID(),
		ReferralID: r.ID,
		Status:     status,
		Reason:     reason,
		ActorID:    actorID,
		RecordedAt: at,
	})
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}
