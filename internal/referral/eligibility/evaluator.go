// Package eligibility decides whether a new referral may be created for an
// NHS number, based on the identity's referral history and the per-source
// re-entry windows.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/metrics"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// Verdict is the outcome of a creation-eligibility evaluation
type Verdict string

const (
	VerdictCanCreate        Verdict = "CanCreate"
	VerdictProviderSelected Verdict = "ProviderSelected"
	VerdictProgrammeStarted Verdict = "ProgrammeStarted"
	VerdictIneligibleSource Verdict = "IneligibleReferralSource"
)

// Evaluation is the structured result of EvaluateCreation. Match carries
// the prior record the verdict was derived from, nil when none exists.
type Evaluation struct {
	Verdict Verdict          `json:"verdict"`
	Reason  string           `json:"reason,omitempty"`
	Match   *domain.Referral `json:"match,omitempty"`
}

// SourceWindow holds the minimum re-entry windows for one referral source,
// in days. Both values must be explicitly configured.
type SourceWindow struct {
	ProviderSelectionDays int
	ProgrammeStartDays    int
}

// ReEntryWindows holds the re-entry windows for the sources that permit
// re-entry. General, elective-care and self referrals never re-enter
// through this path and carry no window.
type ReEntryWindows struct {
	GP       SourceWindow
	Pharmacy SourceWindow
	MSK      SourceWindow
}

// NewReEntryWindows validates that every window is explicitly set.
// A missing window is a fatal configuration error, not a soft default.
func NewReEntryWindows(gp, pharmacy, msk SourceWindow) (ReEntryWindows, error) {
	for _, w := range []struct {
		name   string
		window SourceWindow
	}{
		{"GP", gp}, {"pharmacy", pharmacy}, {"MSK", msk},
	} {
		if w.window.ProviderSelectionDays <= 0 {
			return ReEntryWindows{}, errors.Configuration(
				fmt.Sprintf("%s provider-selection re-entry window is not set", w.name))
		}
		if w.window.ProgrammeStartDays <= 0 {
			return ReEntryWindows{}, errors.Configuration(
				fmt.Sprintf("%s programme-start re-entry window is not set", w.name))
		}
	}
	return ReEntryWindows{GP: gp, Pharmacy: pharmacy, MSK: msk}, nil
}

// ForSource returns the window for a source, false when the source has none
func (w ReEntryWindows) ForSource(src domain.ReferralSource) (SourceWindow, bool) {
	switch src {
	case domain.SourceGPReferral:
		return w.GP, true
	case domain.SourcePharmacyReferral:
		return w.Pharmacy, true
	case domain.SourceMSKReferral:
		return w.MSK, true
	default:
		return SourceWindow{}, false
	}
}

// ReferralFinder is the slice of the repository the evaluator needs
type ReferralFinder interface {
	FindByNHSNumber(ctx context.Context, n types.NHSNumber) ([]domain.Referral, error)
}

// Evaluator applies the creation-eligibility rules
type Evaluator struct {
	finder  ReferralFinder
	windows ReEntryWindows
	now     func() time.Time
}

// NewEvaluator creates an eligibility evaluator
func NewEvaluator(finder ReferralFinder, windows ReEntryWindows) *Evaluator {
	return &Evaluator{finder: finder, windows: windows, now: time.Now}
}

// WithClock overrides the evaluator's clock, for tests
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

const reEntryDateFormat = "2 January 2006"

// EvaluateCreation decides whether a new referral may be created for the
// given NHS number. Ineligibility is a verdict, not an error; errors are
// reserved for malformed state and invariant violations.
func (e *Evaluator) EvaluateCreation(ctx context.Context, nhsNumber types.NHSNumber) (*Evaluation, error) {
	if nhsNumber == "" {
		return nil, errors.BadRequest("NHS number is required")
	}

	records, err := e.finder.FindByNHSNumber(ctx, nhsNumber)
	if err != nil {
		return nil, err
	}

	var inProgress []*domain.Referral
	for i := range records {
		if records[i].IsActive() {
			inProgress = append(inProgress, &records[i])
		}
	}

	if len(inProgress) == 0 {
		return e.verdict(&Evaluation{Verdict: VerdictCanCreate}), nil
	}

	// At most one in-progress referral per identity. More than one means
	// the store is corrupt and needs manual intervention.
	if len(inProgress) > 1 {
		return nil, errors.InvalidState(fmt.Sprintf(
			"%d in-progress referrals exist for NHS number %s, at most one is permitted",
			len(inProgress), nhsNumber.Masked()))
	}

	match := inProgress[0]

	switch match.Source {
	case domain.SourceSelfReferral:
		return e.verdict(&Evaluation{
			Verdict: VerdictIneligibleSource,
			Reason:  "You have already registered yourself for the programme and your referral is still in progress.",
			Match:   match,
		}), nil
	case domain.SourceGeneralReferral, domain.SourceElectiveCareReferral:
		return e.verdict(&Evaluation{
			Verdict: VerdictIneligibleSource,
			Reason:  "An active referral already exists for this service user and must finish before a new one can be created.",
			Match:   match,
		}), nil
	}

	if !match.HasProvider() {
		// No provider selected yet: the existing record will be superseded
		// by the creation flow, so a new referral may be created.
		return e.verdict(&Evaluation{Verdict: VerdictCanCreate, Match: match}), nil
	}

	if match.DateOfProviderSelection == nil {
		return nil, errors.InvalidState(fmt.Sprintf(
			"referral %s has a linked provider but no provider-selection date", match.ID))
	}

	window, ok := e.windows.ForSource(match.Source)
	if !ok {
		return nil, errors.InvalidSource(fmt.Sprintf(
			"no re-entry window is defined for referral source %s", match.Source))
	}

	verdict, reEntry := bindingWindow(match, window)
	if e.today().Before(reEntry) {
		return e.verdict(&Evaluation{
			Verdict: verdict,
			Reason: fmt.Sprintf("You can re-register for the programme on or after %s.",
				reEntry.Format(reEntryDateFormat)),
			Match: match,
		}), nil
	}
	return e.verdict(&Evaluation{Verdict: VerdictCanCreate, Match: match}), nil
}

// CheckUniqueness is the hard variant used by referral-creation flows that
// must reject outright. It scans only Complete and CancelledByEreferrals
// records and raises a uniqueness error citing the earliest date a new
// referral becomes permissible.
func (e *Evaluator) CheckUniqueness(ctx context.Context, nhsNumber types.NHSNumber) error {
	if nhsNumber == "" {
		return errors.BadRequest("NHS number is required")
	}

	records, err := e.finder.FindByNHSNumber(ctx, nhsNumber)
	if err != nil {
		return err
	}

	var matches []*domain.Referral
	for i := range records {
		switch records[i].Status {
		case domain.StatusComplete, domain.StatusCancelledByEreferrals:
			matches = append(matches, &records[i])
		}
	}
	if len(matches) == 0 {
		return nil
	}

	var latest time.Time
	for _, m := range matches {
		if !m.HasProvider() {
			return nil
		}
		if m.DateOfProviderSelection == nil {
			return errors.InvalidState(fmt.Sprintf(
				"referral %s has a linked provider but no provider-selection date", m.ID))
		}
		window, ok := e.windows.ForSource(m.Source)
		if !ok {
			continue
		}
		_, reEntry := bindingWindow(m, window)
		if reEntry.After(latest) {
			latest = reEntry
		}
	}

	if !latest.IsZero() && e.today().Before(latest) {
		return errors.Uniqueness(fmt.Sprintf(
			"a previous referral exists for this service user, a new referral can be created on or after %s",
			latest.Format(reEntryDateFormat)))
	}
	return nil
}

// bindingWindow computes the first permissible re-entry date for a prior
// record. The programme-start window wins when it ends later than the
// provider-selection window.
func bindingWindow(r *domain.Referral, w SourceWindow) (Verdict, time.Time) {
	verdict := VerdictProviderSelected
	reEntry := day(*r.DateOfProviderSelection).AddDate(0, 0, w.ProviderSelectionDays+1)
	if r.DateStartedProgramme != nil {
		startReEntry := day(*r.DateStartedProgramme).AddDate(0, 0, w.ProgrammeStartDays+1)
		if startReEntry.After(reEntry) {
			verdict = VerdictProgrammeStarted
			reEntry = startReEntry
		}
	}
	return verdict, reEntry
}

func (e *Evaluator) verdict(ev *Evaluation) *Evaluation {
	metrics.RecordEligibilityVerdict(string(ev.Verdict))
	return ev
}

func (e *Evaluator) today() time.Time {
	return day(e.now().UTC())
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
