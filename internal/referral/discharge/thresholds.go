package discharge

import (
	"github.com/nhsd-wmp/platform/internal/shared/errors"
)

// Thresholds are the process-wide discharge thresholds. There are no
// defaults: every value must be explicitly configured and is validated
// once at construction, not on every evaluation.
type Thresholds struct {
	// AfterDays is the number of days after programme start at which a
	// referral becomes due for discharge.
	AfterDays int
	// CompletionDays is the number of days that must elapse since the
	// last engagement before a GP referral counts as complete.
	CompletionDays int
	// WeightChangeThresholdKg is the maximum credible weight change
	// between first and last submission before discharge is held.
	WeightChangeThresholdKg float64
}

// NewThresholds validates that every threshold is set
func NewThresholds(afterDays, completionDays int, weightChangeKg float64) (Thresholds, error) {
	if afterDays <= 0 {
		return Thresholds{}, errors.Configuration("discharge-after-days threshold is not set")
	}
	if completionDays <= 0 {
		return Thresholds{}, errors.Configuration("discharge-completion-days threshold is not set")
	}
	if weightChangeKg <= 0 {
		return Thresholds{}, errors.Configuration("weight-change threshold is not set")
	}
	return Thresholds{
		AfterDays:               afterDays,
		CompletionDays:          completionDays,
		WeightChangeThresholdKg: weightChangeKg,
	}, nil
}
