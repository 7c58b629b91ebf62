package discharge

import (
	"context"
	"fmt"
	"log"

	"github.com/nhsd-wmp/platform/internal/docexchange"
	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/metrics"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// organisationNotSupportedReason is the fixed audit reason recorded when
// the exchange cannot deliver to the referring organisation
const organisationNotSupportedReason = "organisation not supported"

// knownUpdateStatuses is the update-status vocabulary the exchange has
// agreed for non-rejection documents
var knownUpdateStatuses = map[string]bool{
	"":          true,
	"Processed": true,
	"Pending":   true,
	"Complete":  true,
}

// RecordOutcome is the per-referral result of one update run
type RecordOutcome struct {
	ReferralID      types.ID                   `json:"referral_id"`
	DocumentStatus  docexchange.DocumentStatus `json:"document_status"`
	ResultingStatus domain.Status              `json:"resulting_status"`
	Note            string                     `json:"note,omitempty"`
}

// UpdateReport is what an update run returns: counts per resulting status
// plus the per-record outcome list
type UpdateReport struct {
	Counts   map[domain.Status]int `json:"counts"`
	Outcomes []RecordOutcome       `json:"outcomes"`
}

// Updater runs the discharge update workflow: for every referral sent for
// discharge it asks the exchange for the document's state and reclassifies
// the answer into the state machine, issuing resolve/delay follow-up calls
// for rejected documents.
type Updater struct {
	repo       domain.Repository
	client     ExchangeClient
	rejections Rejections
	actorID    types.ID
	publisher  Publisher
}

// NewUpdater creates a discharge updater. publisher may be nil.
func NewUpdater(repo domain.Repository, client ExchangeClient, rejections Rejections,
	actorID types.ID, publisher Publisher) (*Updater, error) {
	if actorID.IsZero() {
		return nil, errors.Configuration("discharge workflow actor identity is not set")
	}
	return &Updater{
		repo:       repo,
		client:     client,
		rejections: rejections,
		actorID:    actorID,
		publisher:  publisher,
	}, nil
}

// Run processes every referral in SentForDischarge. The error-handling
// contract matches the submission workflow: per-record failures are
// logged and processing continues, an authentication failure aborts, and
// the returned error aggregates only the latest failure.
func (u *Updater) Run(ctx context.Context) (*UpdateReport, error) {
	referrals, err := u.repo.FindByStatus(ctx, domain.StatusSentForDischarge, 0)
	if err != nil {
		return nil, err
	}

	report := &UpdateReport{Counts: make(map[domain.Status]int)}
	var latest error
	failures := 0

	for i := range referrals {
		r := &referrals[i]

		outcome, err := u.updateOne(ctx, r)
		if err != nil {
			if errors.Is(err, errors.ErrAuthentication) {
				return report, err
			}
			log.Printf("discharge update: referral %s failed: %v", r.ID, err)
			latest = err
			failures++
			continue
		}
		report.Counts[outcome.ResultingStatus]++
		report.Outcomes = append(report.Outcomes, *outcome)
		metrics.RecordDischargeUpdate(string(outcome.DocumentStatus), string(outcome.ResultingStatus))
	}

	if latest != nil {
		return report, errors.NewBatchError(latest, failures)
	}
	return report, nil
}

func (u *Updater) updateOne(ctx context.Context, r *domain.Referral) (*RecordOutcome, error) {
	result, err := u.client.RequestUpdate(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	outcome := &RecordOutcome{ReferralID: r.ID, DocumentStatus: result.DocumentStatus}

	if result.DocumentStatus != docexchange.DocumentRejected && !knownUpdateStatuses[result.UpdateStatus] {
		return nil, errors.Internal(fmt.Errorf(
			"unexpected update status %q for template %q on referral %s",
			result.UpdateStatus, result.TemplateID, r.ID))
	}

	switch result.DocumentStatus {
	case docexchange.DocumentAccepted:
		if err := u.transition(ctx, r, domain.RuleComplete, result.Information); err != nil {
			return nil, err
		}

	case docexchange.DocumentRejectionResolved:
		if err := u.transition(ctx, r, domain.RuleAwaitingDischarge, nil); err != nil {
			return nil, err
		}

	case docexchange.DocumentPending:
		log.Printf("discharge update: referral %s still pending at the exchange", r.ID)
		outcome.Note = "pending"

	case docexchange.DocumentOrganisationNotSupported:
		if err := u.completeViaUnableToDischarge(ctx, r, organisationNotSupportedReason); err != nil {
			return nil, err
		}

	case docexchange.DocumentRejected:
		if err := u.handleRejection(ctx, r, result, outcome); err != nil {
			return nil, err
		}

	default:
		return nil, errors.Internal(fmt.Errorf(
			"unexpected document status %q on update for referral %s", result.DocumentStatus, r.ID))
	}

	outcome.ResultingStatus = r.Status
	return outcome, nil
}

// handleRejection classifies the rejection-reason code against the four
// configured sets for the referral's source. An unmatched code is not an
// error: the document is delayed and the referral left untouched.
func (u *Updater) handleRejection(ctx context.Context, r *domain.Referral,
	result *docexchange.UpdateResult, outcome *RecordOutcome) error {

	var code string
	if result.Information != nil {
		code = *result.Information
	}

	class := u.rejections.ForSource(r.Source).Classify(code)
	outcome.Note = string(class)

	if class == ClassNoMatch {
		return u.client.DelayDischarge(ctx, r.ID)
	}

	if err := u.client.ResolveRejection(ctx, r.ID); err != nil {
		return err
	}

	switch class {
	case ClassTracePatient:
		return u.transition(ctx, r, domain.RuleDischargeAwaitingTrace, nil)
	case ClassAwaitingDischarge:
		return u.transition(ctx, r, domain.RuleAwaitingDischarge, &code)
	case ClassComplete:
		return u.transition(ctx, r, domain.RuleComplete, &code)
	case ClassUnableToDischarge:
		return u.completeViaUnableToDischarge(ctx, r, code)
	}
	return nil
}

// completeViaUnableToDischarge settles a referral at Complete while
// leaving an audit step through UnableToDischarge carrying the reason.
// Both transitions are committed atomically, producing two audit rows.
func (u *Updater) completeViaUnableToDischarge(ctx context.Context, r *domain.Referral, reason string) error {
	from := r.Status
	if err := r.Apply(domain.RuleUnableToDischarge, &reason, u.actorID); err != nil {
		return err
	}
	if err := r.Apply(domain.RuleComplete, nil, u.actorID); err != nil {
		return err
	}
	if err := u.repo.Update(ctx, r); err != nil {
		return err
	}
	metrics.RecordStatusChange(string(from), string(r.Status))
	publishStatusChange(ctx, u.publisher, r, from, u.actorID)
	return nil
}

func (u *Updater) transition(ctx context.Context, r *domain.Referral, rule domain.TransitionRule, reason *string) error {
	from := r.Status
	if err := r.Apply(rule, reason, u.actorID); err != nil {
		return err
	}
	if err := u.repo.Update(ctx, r); err != nil {
		return err
	}
	metrics.RecordStatusChange(string(from), string(r.Status))
	publishStatusChange(ctx, u.publisher, r, from, u.actorID)
	return nil
}
