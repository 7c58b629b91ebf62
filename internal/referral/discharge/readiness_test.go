package discharge

import (
	"strings"
	"testing"
	"time"

	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

var calcNow = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func testThresholds(t *testing.T) Thresholds {
	t.Helper()
	th, err := NewThresholds(84, 14, 25)
	if err != nil {
		t.Fatalf("NewThresholds: %v", err)
	}
	return th
}

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	return NewCalculator(testThresholds(t)).WithClock(func() time.Time { return calcNow })
}

func startedReferral(source domain.ReferralSource, startedDaysAgo int) *domain.Referral {
	start := calcNow.AddDate(0, 0, -startedDaysAgo)
	return &domain.Referral{
		ID:                   types.NewID(),
		Source:               source,
		Status:               domain.StatusProviderContactedServiceUser,
		DateStartedProgramme: &start,
	}
}

func withWeights(r *domain.Referral, first, last float64) *domain.Referral {
	d1 := r.DateStartedProgramme.AddDate(0, 0, 1)
	d2 := calcNow.AddDate(0, 0, -20)
	r.FirstRecordedWeight = &first
	r.DateOfFirstWeight = &d1
	r.LastRecordedWeight = &last
	r.DateOfLastWeight = &d2
	return r
}

func completedDaysAgo(r *domain.Referral, daysAgo int) *domain.Referral {
	done := calcNow.AddDate(0, 0, -daysAgo)
	r.DateCompletedProgramme = &done
	return r
}

// TestNewThresholdsValidation asserts each missing threshold fails with a
// distinct message
func TestNewThresholdsValidation(t *testing.T) {
	tests := []struct {
		name                  string
		after, completion     int
		weight                float64
		wantFragment          string
	}{
		{"After days unset", 0, 14, 25, "discharge-after-days"},
		{"Completion days unset", 84, 0, 25, "discharge-completion-days"},
		{"Weight threshold unset", 84, 14, 0, "weight-change"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewThresholds(tt.after, tt.completion, tt.weight)
			if !errors.Is(err, errors.ErrConfiguration) {
				t.Fatalf("Expected configuration error, got %v", err)
			}
			if got := err.Error(); !strings.Contains(got, tt.wantFragment) {
				t.Errorf("Error %q missing %q", got, tt.wantFragment)
			}
		})
	}
}

// TestEvaluatePreconditions tests the named precondition errors
func TestEvaluatePreconditions(t *testing.T) {
	calc := newTestCalculator(t)

	t.Run("Zero identity", func(t *testing.T) {
		_, err := calc.Evaluate(&domain.Referral{})
		if !errors.Is(err, errors.ErrBadRequest) {
			t.Errorf("Expected bad-request error, got %v", err)
		}
	})

	t.Run("Missing start date", func(t *testing.T) {
		_, err := calc.Evaluate(&domain.Referral{ID: types.NewID(), Source: domain.SourceGPReferral})
		if !errors.Is(err, errors.ErrInvalidState) {
			t.Errorf("Expected invalid-state error, got %v", err)
		}
	})

	t.Run("Zero completion date", func(t *testing.T) {
		r := startedReferral(domain.SourceGPReferral, 90)
		var zero time.Time
		r.DateCompletedProgramme = &zero
		_, err := calc.Evaluate(r)
		if !errors.Is(err, errors.ErrInvalidState) {
			t.Errorf("Expected invalid-state error, got %v", err)
		}
	})

	t.Run("Unknown source", func(t *testing.T) {
		r := startedReferral("FaxReferral", 90)
		_, err := calc.Evaluate(r)
		if !errors.Is(err, errors.ErrInvalidSource) {
			t.Errorf("Expected invalid-source error, got %v", err)
		}
	})
}

// TestEvaluateWeightHold tests the on-hold reason wording exactly
func TestEvaluateWeightHold(t *testing.T) {
	calc := newTestCalculator(t)

	t.Run("Gain over threshold", func(t *testing.T) {
		r := withWeights(completedDaysAgo(startedReferral(domain.SourcePharmacyReferral, 100), 30), 100, 126)
		res, err := calc.Evaluate(r)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.ProgrammeOutcome != domain.OutcomeComplete {
			t.Errorf("Expected outcome %s, got %s", domain.OutcomeComplete, res.ProgrammeOutcome)
		}
		if res.Status != domain.StatusDischargeOnHold {
			t.Errorf("Expected status %s, got %s", domain.StatusDischargeOnHold, res.Status)
		}
		want := "Weight gain of 26 is more than the expected maximum of 25."
		if res.StatusReason == nil || *res.StatusReason != want {
			t.Errorf("Expected reason %q, got %v", want, res.StatusReason)
		}
	})

	t.Run("Loss over threshold", func(t *testing.T) {
		r := withWeights(completedDaysAgo(startedReferral(domain.SourcePharmacyReferral, 100), 30), 130, 100.5)
		res, err := calc.Evaluate(r)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		want := "Weight loss of 29.5 is more than the expected maximum of 25."
		if res.StatusReason == nil || *res.StatusReason != want {
			t.Errorf("Expected reason %q, got %v", want, res.StatusReason)
		}
	})

	t.Run("Change within threshold", func(t *testing.T) {
		r := withWeights(completedDaysAgo(startedReferral(domain.SourcePharmacyReferral, 100), 30), 100, 125)
		res, err := calc.Evaluate(r)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.Status != domain.StatusComplete {
			t.Errorf("Expected status %s, got %s", domain.StatusComplete, res.Status)
		}
		if res.StatusReason != nil {
			t.Errorf("Expected no reason, got %q", *res.StatusReason)
		}
	})

	t.Run("Missing submission means no hold", func(t *testing.T) {
		r := completedDaysAgo(startedReferral(domain.SourcePharmacyReferral, 100), 30)
		res, err := calc.Evaluate(r)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.Status != domain.StatusComplete {
			t.Errorf("Expected status %s, got %s", domain.StatusComplete, res.Status)
		}
	})
}

// TestEvaluateDidNotCommence tests the GP overdue-without-completion case:
// one day past the discharge-after window
func TestEvaluateDidNotCommence(t *testing.T) {
	calc := newTestCalculator(t)
	r := startedReferral(domain.SourceGPReferral, 85) // AfterDays=84, one day past

	res, err := calc.Evaluate(r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.ProgrammeOutcome != domain.OutcomeDidNotCommence {
		t.Errorf("Expected outcome %s, got %s", domain.OutcomeDidNotCommence, res.ProgrammeOutcome)
	}
	if res.Status != domain.StatusAwaitingDischarge {
		t.Errorf("Expected status %s, got %s", domain.StatusAwaitingDischarge, res.Status)
	}
	if !res.IsAwaitingDischarge {
		t.Error("Expected IsAwaitingDischarge")
	}
}

// TestEvaluateNotYetDue tests the quiet period before the after-days window
func TestEvaluateNotYetDue(t *testing.T) {
	calc := newTestCalculator(t)
	r := startedReferral(domain.SourceGPReferral, 30)

	res, err := calc.Evaluate(r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Due {
		t.Error("Expected not due")
	}
	if res.ProgrammeOutcome != domain.OutcomeNotSet {
		t.Errorf("Expected outcome %s, got %s", domain.OutcomeNotSet, res.ProgrammeOutcome)
	}
}

// TestEvaluateGPCompletionWindow tests the GP-only engagement arithmetic
func TestEvaluateGPCompletionWindow(t *testing.T) {
	calc := newTestCalculator(t)

	t.Run("Engagement window elapsed", func(t *testing.T) {
		r := completedDaysAgo(startedReferral(domain.SourceGPReferral, 100), 30)
		r.DateOfLastEngagement = calcNow.AddDate(0, 0, -20) // CompletionDays=14

		res, err := calc.Evaluate(r)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.ProgrammeOutcome != domain.OutcomeComplete {
			t.Errorf("Expected outcome %s, got %s", domain.OutcomeComplete, res.ProgrammeOutcome)
		}
		if res.Status != domain.StatusAwaitingDischarge {
			t.Errorf("Expected status %s, got %s", domain.StatusAwaitingDischarge, res.Status)
		}
	})

	t.Run("Engagement too recent", func(t *testing.T) {
		r := completedDaysAgo(startedReferral(domain.SourceGPReferral, 100), 30)
		r.DateOfLastEngagement = calcNow.AddDate(0, 0, -5)

		res, err := calc.Evaluate(r)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.ProgrammeOutcome != domain.OutcomeDidNotComplete {
			t.Errorf("Expected outcome %s, got %s", domain.OutcomeDidNotComplete, res.ProgrammeOutcome)
		}
	})

	t.Run("Zero engagement substitutes completion date", func(t *testing.T) {
		r := completedDaysAgo(startedReferral(domain.SourceGPReferral, 100), 30)

		res, err := calc.Evaluate(r)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !res.EffectiveLastEngagement.Equal(*r.DateCompletedProgramme) {
			t.Errorf("Expected effective engagement %v, got %v",
				*r.DateCompletedProgramme, res.EffectiveLastEngagement)
		}
	})
}

// TestEvaluateIdempotent asserts evaluation is a pure function
func TestEvaluateIdempotent(t *testing.T) {
	calc := newTestCalculator(t)
	r := withWeights(completedDaysAgo(startedReferral(domain.SourceGPReferral, 100), 30), 100, 126)
	r.DateOfLastEngagement = calcNow.AddDate(0, 0, -20)

	first, err := calc.Evaluate(r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := calc.Evaluate(r)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if first.ProgrammeOutcome != second.ProgrammeOutcome ||
		first.Status != second.Status ||
		(first.StatusReason == nil) != (second.StatusReason == nil) ||
		(first.StatusReason != nil && *first.StatusReason != *second.StatusReason) ||
		!first.EffectiveLastEngagement.Equal(second.EffectiveLastEngagement) {
		t.Errorf("Expected identical results, got %+v and %+v", first, second)
	}
	if r.Status != domain.StatusProviderContactedServiceUser {
		t.Error("Expected the referral to be left unmutated")
	}
}
