package discharge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nhsd-wmp/platform/internal/docexchange"
	"github.com/nhsd-wmp/platform/internal/organisation"
	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/events"
	"github.com/nhsd-wmp/platform/internal/shared/metrics"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// ExchangeClient is the slice of the document-exchange client the
// discharge workflows use
type ExchangeClient interface {
	SubmitDischarge(ctx context.Context, payload docexchange.DischargeNotification) (*docexchange.SubmissionResult, error)
	RequestUpdate(ctx context.Context, referralID types.ID) (*docexchange.UpdateResult, error)
	ResolveRejection(ctx context.Context, referralID types.ID) error
	DelayDischarge(ctx context.Context, referralID types.ID) error
}

// Publisher is the event-bus slice the workflows publish status changes to
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// TemplateSet maps programme outcomes to discharge-letter templates for
// one destination
type TemplateSet struct {
	Complete       string
	DidNotComplete string
	DidNotCommence string
}

// ForOutcome returns the template for an outcome. An unconfigured
// template is a fatal per-record error at submission time.
func (t TemplateSet) ForOutcome(outcome domain.ProgrammeOutcome) (string, error) {
	var id string
	switch outcome {
	case domain.OutcomeComplete:
		id = t.Complete
	case domain.OutcomeDidNotComplete:
		id = t.DidNotComplete
	case domain.OutcomeDidNotCommence:
		id = t.DidNotCommence
	default:
		return "", errors.Configuration(fmt.Sprintf(
			"no discharge template exists for programme outcome %s", outcome))
	}
	if id == "" {
		return "", errors.Configuration(fmt.Sprintf(
			"discharge template for programme outcome %s is not configured", outcome))
	}
	return id, nil
}

// Templates holds the per-destination template sets
type Templates struct {
	GP  TemplateSet
	MSK TemplateSet
}

// Submitter runs the discharge submission workflow: it selects referrals
// awaiting discharge and posts one notification per referral to the
// document exchange, reclassifying each response into the state machine.
type Submitter struct {
	repo      domain.Repository
	orgs      organisation.Lookup
	client    ExchangeClient
	templates Templates
	maxPerRun int
	actorID   types.ID
	publisher Publisher
}

// NewSubmitter creates a discharge submitter. actorID is the system
// identity recorded on the audit entries the workflow writes. publisher
// may be nil.
func NewSubmitter(repo domain.Repository, orgs organisation.Lookup, client ExchangeClient,
	templates Templates, maxPerRun int, actorID types.ID, publisher Publisher) (*Submitter, error) {
	if maxPerRun <= 0 {
		return nil, errors.Configuration("max discharges per run is not set")
	}
	if actorID.IsZero() {
		return nil, errors.Configuration("discharge workflow actor identity is not set")
	}
	return &Submitter{
		repo:      repo,
		orgs:      orgs,
		client:    client,
		templates: templates,
		maxPerRun: maxPerRun,
		actorID:   actorID,
		publisher: publisher,
	}, nil
}

// Run processes one batch. Referrals are taken oldest first up to the
// per-run cap. Per-record failures are logged and processing continues;
// only an authentication failure aborts the remaining queue. The
// returned error, if any, is a single aggregate carrying the latest
// per-record failure.
func (s *Submitter) Run(ctx context.Context) ([]types.ID, error) {
	referrals, err := s.repo.FindByStatus(ctx, domain.StatusAwaitingDischarge, s.maxPerRun)
	if err != nil {
		return nil, err
	}

	var touched []types.ID
	var latest error
	failures := 0

	for i := range referrals {
		r := &referrals[i]

		if !r.NotifyGP() {
			log.Printf("discharge submission: referral %s skipped, consent to notify withheld", r.ID)
			continue
		}
		if skip, err := s.lettersDisabled(ctx, r); err == nil && skip {
			log.Printf("discharge submission: referral %s skipped, organisation %s has discharge letters disabled",
				r.ID, r.GPPracticeODSCode)
			continue
		}

		if err := s.submitOne(ctx, r, &touched); err != nil {
			if errors.Is(err, errors.ErrAuthentication) {
				return touched, err
			}
			log.Printf("discharge submission: referral %s failed: %v", r.ID, err)
			metrics.RecordDischargeSubmitted(string(r.Source), "error")
			latest = err
			failures++
		}
	}

	if latest != nil {
		return touched, errors.NewBatchError(latest, failures)
	}
	return touched, nil
}

func (s *Submitter) lettersDisabled(ctx context.Context, r *domain.Referral) (bool, error) {
	org, err := s.orgs.GPPractice(ctx, r.GPPracticeODSCode)
	if err != nil {
		// An unknown practice still gets a letter; only an explicit
		// opt-out suppresses it.
		return false, nil
	}
	return !org.SendsDischargeLetters(), nil
}

func (s *Submitter) submitOne(ctx context.Context, r *domain.Referral, touched *[]types.ID) error {
	targets, err := s.buildTargets(ctx, r)
	if err != nil {
		return err
	}

	providerName, err := s.providerName(ctx, r)
	if err != nil {
		return err
	}

	result, err := s.client.SubmitDischarge(ctx, buildNotification(r, providerName, targets))
	if err != nil {
		return err
	}

	switch result.DocumentStatus {
	case docexchange.DocumentReceived, docexchange.DocumentPending:
		if err := s.transition(ctx, r, domain.RuleSentForDischarge, nil); err != nil {
			return err
		}
	case docexchange.DocumentOrganisationNotSupported:
		if err := s.transition(ctx, r, domain.RuleComplete, nil); err != nil {
			return err
		}
	case docexchange.DocumentAlreadySent:
		log.Printf("discharge submission: referral %s already sent, leaving unchanged", r.ID)
		return nil
	default:
		return errors.Internal(fmt.Errorf(
			"unexpected document status %q for referral %s", result.DocumentStatus, r.ID))
	}

	*touched = append(*touched, r.ID)
	metrics.RecordDischargeSubmitted(string(r.Source), string(result.DocumentStatus))
	return nil
}

// buildTargets produces one GP-directed target, plus an MSK target for
// MSK referrals whose organisation is matched and active. An unmatched or
// inactive organisation degrades to the GP-only path.
func (s *Submitter) buildTargets(ctx context.Context, r *domain.Referral) ([]docexchange.NotificationTarget, error) {
	gpTemplate, err := s.templates.GP.ForOutcome(r.ProgrammeOutcome)
	if err != nil {
		return nil, err
	}
	targets := []docexchange.NotificationTarget{
		{ODSCode: r.GPPracticeODSCode, TemplateID: gpTemplate},
	}

	if r.Source != domain.SourceMSKReferral || r.MSKOrganisationCode == "" {
		return targets, nil
	}

	org, err := s.orgs.MSKOrganisation(ctx, r.MSKOrganisationCode)
	if err != nil || !org.Active {
		log.Printf("discharge submission: referral %s MSK organisation %s unavailable, sending GP letter only",
			r.ID, r.MSKOrganisationCode)
		return targets, nil
	}

	mskTemplate, err := s.templates.MSK.ForOutcome(r.ProgrammeOutcome)
	if err != nil {
		return nil, err
	}
	return append(targets, docexchange.NotificationTarget{
		ODSCode: org.ODSCode, TemplateID: mskTemplate,
	}), nil
}

func (s *Submitter) providerName(ctx context.Context, r *domain.Referral) (string, error) {
	if !r.HasProvider() {
		return "", errors.ProviderConsistency(fmt.Sprintf(
			"referral %s is awaiting discharge without a linked provider", r.ID))
	}
	provider, err := s.repo.FindProviderByID(ctx, *r.ProviderID)
	if err != nil {
		return "", err
	}
	return provider.Name, nil
}

func (s *Submitter) transition(ctx context.Context, r *domain.Referral, rule domain.TransitionRule, reason *string) error {
	from := r.Status
	if err := r.Apply(rule, reason, s.actorID); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, r); err != nil {
		return err
	}
	metrics.RecordStatusChange(string(from), string(r.Status))
	s.publish(ctx, r, from)
	return nil
}

func (s *Submitter) publish(ctx context.Context, r *domain.Referral, from domain.Status) {
	publishStatusChange(ctx, s.publisher, r, from, s.actorID)
}

func buildNotification(r *domain.Referral, providerName string, targets []docexchange.NotificationTarget) docexchange.DischargeNotification {
	return docexchange.DischargeNotification{
		ReferralID:           r.ID,
		NHSNumber:            string(r.NHSNumber),
		GivenName:            r.GivenName,
		FamilyName:           r.FamilyName,
		DateOfBirth:          formatDate(r.DateOfBirth),
		ProviderName:         providerName,
		ProgrammeOutcome:     string(r.ProgrammeOutcome),
		DateOfReferral:       formatDate(r.DateOfReferral),
		DateStartedProgramme: formatDatePtr(r.DateStartedProgramme),
		DateCompleted:        formatDatePtr(r.DateCompletedProgramme),
		FirstRecordedWeight:  r.FirstRecordedWeight,
		DateOfFirstWeight:    formatDatePtr(r.DateOfFirstWeight),
		LastRecordedWeight:   r.LastRecordedWeight,
		DateOfLastWeight:     formatDatePtr(r.DateOfLastWeight),
		Targets:              targets,
	}
}

// publishStatusChange emits a referral.status_changed event. Publishing
// is best effort: the status change is already committed.
func publishStatusChange(ctx context.Context, p Publisher, r *domain.Referral, from domain.Status, actorID types.ID) {
	if p == nil {
		return
	}
	event := events.NewEvent("referral.status_changed", "discharge", map[string]any{
		"referral_id": r.ID,
		"source":      string(r.Source),
		"from_status": string(from),
		"to_status":   string(r.Status),
	}).WithActor(actorID, "system", "")
	if err := p.Publish(ctx, event); err != nil {
		log.Printf("publish status change for referral %s: %v", r.ID, err)
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatDatePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}
