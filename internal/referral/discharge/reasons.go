package discharge

import (
	"fmt"

	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
)

// Classification names which configured reason set a rejection-reason
// code fell into
type Classification string

const (
	ClassTracePatient      Classification = "TracePatient"
	ClassAwaitingDischarge Classification = "AwaitingDischarge"
	ClassComplete          Classification = "Complete"
	ClassUnableToDischarge Classification = "UnableToDischarge"
	ClassNoMatch           Classification = "NoMatch"
)

// ReasonSet is a set of rejection-reason codes
type ReasonSet map[string]struct{}

// NewReasonSet builds a set from configured codes
func NewReasonSet(codes []string) ReasonSet {
	s := make(ReasonSet, len(codes))
	for _, c := range codes {
		if c != "" {
			s[c] = struct{}{}
		}
	}
	return s
}

// Contains reports set membership
func (s ReasonSet) Contains(code string) bool {
	_, ok := s[code]
	return ok
}

// ReasonSets holds the four disjoint rejection-reason sets for one
// source family. Classification is a pure lookup over them.
type ReasonSets struct {
	TracePatient      ReasonSet
	AwaitingDischarge ReasonSet
	Complete          ReasonSet
	UnableToDischarge ReasonSet
}

// NewReasonSets validates that the four sets are pairwise disjoint.
// Overlap would make classification order-dependent, which is a
// configuration error.
func NewReasonSets(trace, awaiting, complete, unable []string) (ReasonSets, error) {
	sets := ReasonSets{
		TracePatient:      NewReasonSet(trace),
		AwaitingDischarge: NewReasonSet(awaiting),
		Complete:          NewReasonSet(complete),
		UnableToDischarge: NewReasonSet(unable),
	}

	seen := map[string]string{}
	for _, s := range []struct {
		name string
		set  ReasonSet
	}{
		{"trace-patient", sets.TracePatient},
		{"awaiting-discharge", sets.AwaitingDischarge},
		{"complete", sets.Complete},
		{"unable-to-discharge", sets.UnableToDischarge},
	} {
		for code := range s.set {
			if prev, ok := seen[code]; ok {
				return ReasonSets{}, errors.Configuration(fmt.Sprintf(
					"rejection reason %q appears in both the %s and %s sets", code, prev, s.name))
			}
			seen[code] = s.name
		}
	}
	return sets, nil
}

// Classify looks a rejection-reason code up in the four sets
func (s ReasonSets) Classify(code string) Classification {
	switch {
	case s.TracePatient.Contains(code):
		return ClassTracePatient
	case s.AwaitingDischarge.Contains(code):
		return ClassAwaitingDischarge
	case s.Complete.Contains(code):
		return ClassComplete
	case s.UnableToDischarge.Contains(code):
		return ClassUnableToDischarge
	default:
		return ClassNoMatch
	}
}

// Rejections holds the per-source-family reason sets. GP referrals carry
// their own vocabulary; every other source shares one.
type Rejections struct {
	GP    ReasonSets
	Other ReasonSets
}

// ForSource selects the reason sets for a referral source
func (r Rejections) ForSource(src domain.ReferralSource) ReasonSets {
	if src == domain.SourceGPReferral {
		return r.GP
	}
	return r.Other
}
