package discharge

import (
	"testing"

	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
)

func testReasonSets(t *testing.T) ReasonSets {
	t.Helper()
	sets, err := NewReasonSets(
		[]string{"PATIENT_NOT_FOUND", "DEMOGRAPHICS_MISMATCH"},
		[]string{"TEMPORARY_FAILURE"},
		[]string{"PATIENT_DECEASED", "PATIENT_DEREGISTERED"},
		[]string{"PRACTICE_CLOSED"},
	)
	if err != nil {
		t.Fatalf("NewReasonSets: %v", err)
	}
	return sets
}

// TestNewReasonSetsDisjoint asserts overlapping sets are rejected
func TestNewReasonSetsDisjoint(t *testing.T) {
	_, err := NewReasonSets(
		[]string{"PATIENT_NOT_FOUND"},
		[]string{"PATIENT_NOT_FOUND"},
		nil, nil,
	)
	if !errors.Is(err, errors.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

// TestClassify tests the pure lookup over the four sets
func TestClassify(t *testing.T) {
	sets := testReasonSets(t)

	tests := []struct {
		code string
		want Classification
	}{
		{"PATIENT_NOT_FOUND", ClassTracePatient},
		{"DEMOGRAPHICS_MISMATCH", ClassTracePatient},
		{"TEMPORARY_FAILURE", ClassAwaitingDischarge},
		{"PATIENT_DECEASED", ClassComplete},
		{"PRACTICE_CLOSED", ClassUnableToDischarge},
		{"SOMETHING_ELSE", ClassNoMatch},
		{"", ClassNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := sets.Classify(tt.code); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

// TestRejectionsForSource asserts GP uses its own vocabulary and every
// other source shares one
func TestRejectionsForSource(t *testing.T) {
	gp := testReasonSets(t)
	other, err := NewReasonSets([]string{"PATIENT_NOT_FOUND"}, nil, []string{"PATIENT_DECEASED"}, nil)
	if err != nil {
		t.Fatalf("NewReasonSets: %v", err)
	}
	r := Rejections{GP: gp, Other: other}

	if got := r.ForSource(domain.SourceGPReferral).Classify("PRACTICE_CLOSED"); got != ClassUnableToDischarge {
		t.Errorf("GP Classify = %s", got)
	}
	for _, src := range []domain.ReferralSource{
		domain.SourcePharmacyReferral, domain.SourceMSKReferral, domain.SourceSelfReferral,
	} {
		if got := r.ForSource(src).Classify("PRACTICE_CLOSED"); got != ClassNoMatch {
			t.Errorf("%s Classify = %s, want %s", src, got, ClassNoMatch)
		}
	}
}
