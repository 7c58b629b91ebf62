package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

func mustNHSNumber(t *testing.T, s string) types.NHSNumber {
	t.Helper()
	n, err := types.ParseNHSNumber(s)
	if err != nil {
		t.Fatalf("ParseNHSNumber(%q): %v", s, err)
	}
	return n
}

func newTestReferral(t *testing.T, source ReferralSource) *Referral {
	t.Helper()
	r, err := NewReferral(source, mustNHSNumber(t, "943 476 5919"), time.Now().UTC(), types.NewID())
	if err != nil {
		t.Fatalf("NewReferral: %v", err)
	}
	return r
}

// TestNewReferral tests creating a new referral
func TestNewReferral(t *testing.T) {
	actorID := types.NewID()
	referred := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	r, err := NewReferral(SourceGPReferral, mustNHSNumber(t, "9434765919"), referred, actorID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if r.ID.IsZero() {
		t.Error("Expected non-zero ID")
	}
	if r.Status != StatusNew {
		t.Errorf("Expected status %s, got %s", StatusNew, r.Status)
	}
	if r.ProgrammeOutcome != OutcomeNotSet {
		t.Errorf("Expected outcome %s, got %s", OutcomeNotSet, r.ProgrammeOutcome)
	}
	if !r.DateOfReferral.Equal(referred) {
		t.Errorf("Expected date of referral %v, got %v", referred, r.DateOfReferral)
	}

	// Creation must leave an audit entry behind
	audit := r.PendingAudit()
	if len(audit) != 1 {
		t.Fatalf("Expected 1 pending audit entry, got %d", len(audit))
	}
	if audit[0].Status != StatusNew {
		t.Errorf("Expected audit status %s, got %s", StatusNew, audit[0].Status)
	}
	if audit[0].ActorID != actorID {
		t.Errorf("Expected audit actor %s, got %s", actorID, audit[0].ActorID)
	}
}

// TestNewReferralValidation tests validation when creating a referral
func TestNewReferralValidation(t *testing.T) {
	actorID := types.NewID()
	referred := time.Now().UTC()

	tests := []struct {
		name        string
		nhsNumber   string
		referred    time.Time
		actorID     types.ID
		expectError bool
	}{
		{"Invalid check digit", "9434765918", referred, actorID, true},
		{"Too short", "12345", referred, actorID, true},
		{"Zero actor", "9434765919", referred, types.ID(""), true},
		{"Zero referral date", "9434765919", time.Time{}, actorID, true},
		{"Valid", "9434765919", referred, actorID, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := types.ParseNHSNumber(tt.nhsNumber)
			_, err := NewReferral(SourceSelfReferral, n, tt.referred, tt.actorID)
			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

// TestParseSource tests source parsing
func TestParseSource(t *testing.T) {
	for _, src := range allSources {
		if got, err := ParseSource(string(src)); err != nil || got != src {
			t.Errorf("ParseSource(%s) = %s, %v", src, got, err)
		}
	}
	if _, err := ParseSource("FaxReferral"); err == nil {
		t.Error("Expected error for unknown source")
	}
}

// TestApplyRejectsTerminal asserts terminal referrals never change again
func TestApplyRejectsTerminal(t *testing.T) {
	for _, terminal := range []Status{StatusComplete, StatusCancelled, StatusCancelledByEreferrals} {
		t.Run(string(terminal), func(t *testing.T) {
			r := newTestReferral(t, SourceGPReferral)
			r.Status = terminal

			err := r.Apply(RuleCancel, nil, types.NewID())
			if !errors.Is(err, errors.ErrInvalidState) {
				t.Errorf("Expected invalid-state error, got %v", err)
			}
		})
	}
}

// TestApplyListsAcceptedSet asserts the guard error names every accepted status
func TestApplyListsAcceptedSet(t *testing.T) {
	r := newTestReferral(t, SourceGPReferral)
	r.Status = StatusAwaitingDischarge
	pid := types.NewID()
	r.ProviderID = &pid

	err := r.Apply(RuleProviderAccepted, nil, types.NewID())
	if !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("Expected invalid-state error, got %v", err)
	}
	for _, want := range RuleProviderAccepted.Accepted {
		if !strings.Contains(err.Error(), string(want)) {
			t.Errorf("Error %q does not list accepted status %s", err.Error(), want)
		}
	}
}

// TestApplyProviderConsistency tests the provider-linkage guards
func TestApplyProviderConsistency(t *testing.T) {
	t.Run("Required but missing", func(t *testing.T) {
		r := newTestReferral(t, SourceGPReferral)
		r.Status = StatusProviderAwaitingStart

		err := r.Apply(RuleProviderAccepted, nil, types.NewID())
		if !errors.Is(err, errors.ErrProviderConsistency) {
			t.Errorf("Expected provider-consistency error, got %v", err)
		}
	})

	t.Run("Forbidden but present", func(t *testing.T) {
		r := newTestReferral(t, SourceGPReferral)
		pid := types.NewID()
		r.ProviderID = &pid

		err := r.Apply(RuleTextMessage1, nil, types.NewID())
		if !errors.Is(err, errors.ErrProviderConsistency) {
			t.Errorf("Expected provider-consistency error, got %v", err)
		}
	})

	// The linkage check wins over the accepted-set check: a pre-selection
	// rejection with a provider already linked reports the inconsistency
	// even from a status far outside the rule's accepted set.
	t.Run("Forbidden wins over accepted set", func(t *testing.T) {
		r := newTestReferral(t, SourceGPReferral)
		pid := types.NewID()
		r.ProviderID = &pid
		r.Status = StatusProviderAccepted

		err := r.Apply(RuleRejectBeforeProviderSelection, nil, types.NewID())
		if !errors.Is(err, errors.ErrProviderConsistency) {
			t.Errorf("Expected provider-consistency error, got %v", err)
		}
	})
}

// TestContactCascade walks the happy path of the contact cascade
func TestContactCascade(t *testing.T) {
	r := newTestReferral(t, SourceSelfReferral)
	actor := types.NewID()

	steps := []struct {
		rule TransitionRule
		want Status
	}{
		{RuleTextMessage1, StatusTextMessage1},
		{RuleTextMessage2, StatusTextMessage2},
		{RuleChatBotCall1, StatusChatBotCall1},
		{RuleChatBotTransfer, StatusChatBotTransfer},
		{RuleRmcCall, StatusRmcCall},
		{RuleRmcDelayed, StatusRmcDelayed},
		{RuleTextMessage3, StatusTextMessage3},
	}
	for _, step := range steps {
		if err := r.Apply(step.rule, nil, actor); err != nil {
			t.Fatalf("%s: %v", step.rule.Name, err)
		}
		if r.Status != step.want {
			t.Fatalf("%s: expected status %s, got %s", step.rule.Name, step.want, r.Status)
		}
	}

	// creation + 7 transitions
	if got := len(r.PendingAudit()); got != 8 {
		t.Errorf("Expected 8 pending audit entries, got %d", got)
	}
}

// TestFailedToContactFanOut tests the source-dependent terminal fan-out
func TestFailedToContactFanOut(t *testing.T) {
	tests := []struct {
		source ReferralSource
		want   Status
	}{
		{SourceGPReferral, StatusFailedToContact},
		{SourcePharmacyReferral, StatusFailedToContactTextMessage},
		{SourceMSKReferral, StatusFailedToContactTextMessage},
		{SourceSelfReferral, StatusFailedToContactTextMessage},
		{SourceGeneralReferral, StatusFailedToContactTextMessage},
		{SourceElectiveCareReferral, StatusFailedToContactTextMessage},
	}
	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			r := newTestReferral(t, tt.source)
			r.Status = StatusTextMessage3

			if err := r.Apply(RuleFailedToContact, nil, types.NewID()); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if r.Status != tt.want {
				t.Errorf("Expected status %s, got %s", tt.want, r.Status)
			}
		})
	}
}

// TestProviderOutcomeFanOut tests the GP vs non-GP variants of provider outcomes
func TestProviderOutcomeFanOut(t *testing.T) {
	tests := []struct {
		name   string
		rule   TransitionRule
		source ReferralSource
		want   Status
	}{
		{"Declined GP", RuleProviderDeclined, SourceGPReferral, StatusProviderDeclinedByServiceUser},
		{"Declined Pharmacy", RuleProviderDeclined, SourcePharmacyReferral, StatusProviderDeclinedByServiceUserTextMessage},
		{"Rejected GP", RuleProviderRejected, SourceGPReferral, StatusProviderRejected},
		{"Rejected MSK", RuleProviderRejected, SourceMSKReferral, StatusProviderRejectedTextMessage},
		{"Terminated GP", RuleProviderTerminated, SourceGPReferral, StatusProviderTerminated},
		{"Terminated Self", RuleProviderTerminated, SourceSelfReferral, StatusProviderTerminatedTextMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReferral(t, tt.source)
			r.Status = StatusProviderAccepted
			pid := types.NewID()
			r.ProviderID = &pid

			if err := r.Apply(tt.rule, nil, types.NewID()); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if r.Status != tt.want {
				t.Errorf("Expected status %s, got %s", tt.want, r.Status)
			}
		})
	}
}

// TestSelectProvider tests linking a provider
func TestSelectProvider(t *testing.T) {
	r := newTestReferral(t, SourceGPReferral)
	providerID := types.NewID()

	if err := r.SelectProvider(providerID, types.NewID()); err != nil {
		t.Fatalf("SelectProvider: %v", err)
	}
	if r.Status != StatusProviderAwaitingStart {
		t.Errorf("Expected status %s, got %s", StatusProviderAwaitingStart, r.Status)
	}
	if !r.HasProvider() || *r.ProviderID != providerID {
		t.Error("Expected provider to be linked")
	}
	if r.DateOfProviderSelection == nil {
		t.Error("Expected date of provider selection to be set")
	}

	// Selecting again must fail: a provider is already linked
	if err := r.SelectProvider(types.NewID(), types.NewID()); !errors.Is(err, errors.ErrProviderConsistency) {
		t.Errorf("Expected provider-consistency error, got %v", err)
	}
}

// TestRejection tests both rejection operations and their outcomes
func TestRejection(t *testing.T) {
	t.Run("Before provider selection", func(t *testing.T) {
		r := newTestReferral(t, SourceGPReferral)
		r.Status = StatusRmcCall

		if err := r.RejectBeforeProviderSelection("PATIENT_DECEASED", types.NewID()); err != nil {
			t.Fatalf("RejectBeforeProviderSelection: %v", err)
		}
		if r.Status != StatusRejectedToEreferrals {
			t.Errorf("Expected status %s, got %s", StatusRejectedToEreferrals, r.Status)
		}
		if r.ProgrammeOutcome != OutcomeRejectedBeforeProviderSelection {
			t.Errorf("Expected outcome %s, got %s", OutcomeRejectedBeforeProviderSelection, r.ProgrammeOutcome)
		}
		if r.StatusReason == nil || *r.StatusReason != "PATIENT_DECEASED" {
			t.Error("Expected status reason to be recorded")
		}
	})

	t.Run("After provider selection", func(t *testing.T) {
		r := newTestReferral(t, SourceGPReferral)
		r.Status = StatusProviderAccepted
		pid := types.NewID()
		r.ProviderID = &pid

		if err := r.RejectAfterProviderSelection("MOVED_OUT_OF_AREA", types.NewID()); err != nil {
			t.Fatalf("RejectAfterProviderSelection: %v", err)
		}
		if r.ProgrammeOutcome != OutcomeRejectedAfterProviderSelection {
			t.Errorf("Expected outcome %s, got %s", OutcomeRejectedAfterProviderSelection, r.ProgrammeOutcome)
		}
	})

	t.Run("After-selection rule refuses unlinked referral", func(t *testing.T) {
		r := newTestReferral(t, SourceGPReferral)

		err := r.RejectAfterProviderSelection("MOVED_OUT_OF_AREA", types.NewID())
		if !errors.Is(err, errors.ErrProviderConsistency) {
			t.Errorf("Expected provider-consistency error, got %v", err)
		}
	})
}

// TestExceptionRehabilitation tests Exception parking and its single exit
func TestExceptionRehabilitation(t *testing.T) {
	r := newTestReferral(t, SourcePharmacyReferral)
	actor := types.NewID()

	if err := r.Apply(RuleException, nil, actor); err != nil {
		t.Fatalf("mark exception: %v", err)
	}
	if r.Status != StatusException {
		t.Fatalf("Expected status %s, got %s", StatusException, r.Status)
	}

	// The only way out of Exception is back to the referring system
	if err := r.Apply(RuleTextMessage1, nil, actor); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Expected invalid-state error, got %v", err)
	}
	if err := r.Apply(RuleRehabilitateException, nil, actor); err != nil {
		t.Fatalf("rehabilitate: %v", err)
	}
	if r.Status != StatusRejectedToEreferrals {
		t.Errorf("Expected status %s, got %s", StatusRejectedToEreferrals, r.Status)
	}
}

// TestCompleteSetsCompletionDate tests completion-date stamping
func TestCompleteSetsCompletionDate(t *testing.T) {
	r := newTestReferral(t, SourceGPReferral)
	r.Status = StatusSentForDischarge
	pid := types.NewID()
	r.ProviderID = &pid

	if err := r.Apply(RuleComplete, nil, types.NewID()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Status != StatusComplete {
		t.Errorf("Expected status %s, got %s", StatusComplete, r.Status)
	}
	if r.DateCompletedProgramme == nil {
		t.Error("Expected completion date to be set")
	}
}

// TestCompleteKeepsExistingCompletionDate tests that a provider-reported
// completion date is not overwritten
func TestCompleteKeepsExistingCompletionDate(t *testing.T) {
	r := newTestReferral(t, SourceGPReferral)
	r.Status = StatusSentForDischarge
	pid := types.NewID()
	r.ProviderID = &pid
	reported := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	r.DateCompletedProgramme = &reported

	if err := r.Apply(RuleComplete, nil, types.NewID()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !r.DateCompletedProgramme.Equal(reported) {
		t.Errorf("Expected completion date %v to survive, got %v", reported, *r.DateCompletedProgramme)
	}
}

// TestRecordWeight tests first/last weight bookkeeping
func TestRecordWeight(t *testing.T) {
	r := newTestReferral(t, SourceGPReferral)
	d1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	if err := r.RecordWeight(120.5, d1); err != nil {
		t.Fatalf("RecordWeight: %v", err)
	}
	if err := r.RecordWeight(112.0, d2); err != nil {
		t.Fatalf("RecordWeight: %v", err)
	}

	if *r.FirstRecordedWeight != 120.5 || !r.DateOfFirstWeight.Equal(d1) {
		t.Error("Expected first recorded weight to stay fixed")
	}
	if *r.LastRecordedWeight != 112.0 || !r.DateOfLastWeight.Equal(d2) {
		t.Error("Expected last recorded weight to roll forward")
	}

	if err := r.RecordWeight(-3, d2); !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("Expected bad-request error for negative weight, got %v", err)
	}
}

// TestNotifyGP tests the tri-state consent default
func TestNotifyGP(t *testing.T) {
	r := newTestReferral(t, SourceGPReferral)
	if !r.NotifyGP() {
		t.Error("Expected unstated consent to mean notify")
	}
	no := false
	r.ConsentToNotifyGP = &no
	if r.NotifyGP() {
		t.Error("Expected withheld consent to mean do not notify")
	}
	yes := true
	r.ConsentToNotifyGP = &yes
	if !r.NotifyGP() {
		t.Error("Expected granted consent to mean notify")
	}
}
