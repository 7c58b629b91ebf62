// Package discharge implements discharge readiness, submission and
// update handling for referrals nearing the end of the programme.
package discharge

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
)

// Readiness is the result of evaluating a referral for discharge. It is
// a pure value: the calculator never mutates the referral.
type Readiness struct {
	Due                     bool                    `json:"due"`
	ProgrammeOutcome        domain.ProgrammeOutcome `json:"programme_outcome"`
	Status                  domain.Status           `json:"status"`
	StatusReason            *string                 `json:"status_reason,omitempty"`
	IsAwaitingDischarge     bool                    `json:"is_awaiting_discharge"`
	FirstRecordedWeight     *float64                `json:"first_recorded_weight,omitempty"`
	DateOfFirstWeight       *time.Time              `json:"date_of_first_weight,omitempty"`
	LastRecordedWeight      *float64                `json:"last_recorded_weight,omitempty"`
	DateOfLastWeight        *time.Time              `json:"date_of_last_weight,omitempty"`
	EffectiveLastEngagement time.Time               `json:"effective_last_engagement"`
}

// Calculator computes discharge readiness from thresholds and a clock.
// Construct it once with validated thresholds; Evaluate is a pure
// function of its inputs and the clock.
type Calculator struct {
	thresholds Thresholds
	now        func() time.Time
}

// NewCalculator creates a readiness calculator
func NewCalculator(thresholds Thresholds) *Calculator {
	return &Calculator{thresholds: thresholds, now: time.Now}
}

// WithClock overrides the calculator's clock, for tests
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Evaluate computes discharge readiness for one referral.
//
// The effective last-engagement date is the reported one unless it is the
// zero sentinel, in which case the completion date stands in, or failing
// that the start date plus the discharge-after window. GP referrals count
// as complete only once the completion-days window has elapsed since the
// effective engagement; other sources count as complete as soon as a
// completion date exists.
func (c *Calculator) Evaluate(r *domain.Referral) (*Readiness, error) {
	if r == nil || r.ID.IsZero() {
		return nil, errors.BadRequest("referral identity is required")
	}
	if r.DateStartedProgramme == nil || r.DateStartedProgramme.IsZero() {
		return nil, errors.InvalidState(fmt.Sprintf(
			"referral %s has no programme start date", r.ID))
	}
	if r.DateCompletedProgramme != nil && r.DateCompletedProgramme.IsZero() {
		return nil, errors.InvalidState(fmt.Sprintf(
			"referral %s has a zero programme completion date", r.ID))
	}
	if _, err := domain.ParseSource(string(r.Source)); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	start := *r.DateStartedProgramme
	dueDate := start.AddDate(0, 0, c.thresholds.AfterDays)

	effective := r.DateOfLastEngagement
	if effective.IsZero() {
		if r.DateCompletedProgramme != nil {
			effective = *r.DateCompletedProgramme
		} else {
			effective = dueDate
		}
	}

	result := &Readiness{
		FirstRecordedWeight:     r.FirstRecordedWeight,
		DateOfFirstWeight:       r.DateOfFirstWeight,
		LastRecordedWeight:      r.LastRecordedWeight,
		DateOfLastWeight:        r.DateOfLastWeight,
		EffectiveLastEngagement: effective,
	}

	completed := false
	if r.DateCompletedProgramme != nil {
		if r.Source == domain.SourceGPReferral {
			completed = daysBetween(effective, now) >= c.thresholds.CompletionDays
		} else {
			completed = true
		}
	}

	switch {
	case completed:
		result.ProgrammeOutcome = domain.OutcomeComplete
	case r.DateCompletedProgramme == nil && !now.Before(dueDate):
		result.ProgrammeOutcome = domain.OutcomeDidNotCommence
	case r.DateCompletedProgramme != nil:
		result.ProgrammeOutcome = domain.OutcomeDidNotComplete
	default:
		// Not yet due and not completed: nothing to do this run
		result.ProgrammeOutcome = domain.OutcomeNotSet
		return result, nil
	}
	result.Due = true

	if result.ProgrammeOutcome == domain.OutcomeComplete {
		if hold, reason := c.weightHold(r); hold {
			result.Status = domain.StatusDischargeOnHold
			result.StatusReason = &reason
			return result, nil
		}
	}

	if r.Source == domain.SourceGPReferral {
		result.Status = domain.StatusAwaitingDischarge
		result.IsAwaitingDischarge = true
	} else {
		result.Status = domain.StatusComplete
	}
	return result, nil
}

// weightHold applies the weight-change credibility check. The delta is
// zero when either submission is missing.
func (c *Calculator) weightHold(r *domain.Referral) (bool, string) {
	if r.FirstRecordedWeight == nil || r.LastRecordedWeight == nil {
		return false, ""
	}
	delta := *r.LastRecordedWeight - *r.FirstRecordedWeight
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	if abs <= c.thresholds.WeightChangeThresholdKg {
		return false, ""
	}
	direction := "gain"
	if delta < 0 {
		direction = "loss"
	}
	return true, fmt.Sprintf("Weight %s of %s is more than the expected maximum of %s.",
		direction, formatKg(abs), formatKg(c.thresholds.WeightChangeThresholdKg))
}

// formatKg renders a weight without trailing zeros, so 26.0 prints as 26
func formatKg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
