package internal

import (
	"testing"
	"time"

	"github.com/nhsd-wmp/platform/internal/privacy"
	"github.com/nhsd-wmp/platform/internal/referral/discharge"
	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// TestFullReferralWorkflow walks one GP referral through the complete
// pathway: contact, provider selection, programme delivery and discharge.
func TestFullReferralWorkflow(t *testing.T) {
	actorID := types.NewID()
	nhsNumber, err := types.ParseNHSNumber("9434765919")
	if err != nil {
		t.Fatalf("Failed to parse NHS number: %v", err)
	}

	// 1. Create a new referral
	ref, err := domain.NewReferral(domain.SourceGPReferral, nhsNumber, time.Now().AddDate(0, -6, 0), actorID)
	if err != nil {
		t.Fatalf("Failed to create referral: %v", err)
	}
	if ref.Status != domain.StatusNew {
		t.Errorf("New referral should be in New status, got %s", ref.Status)
	}

	// 2. Contact pathway: first text message
	if err := ref.Apply(domain.RuleTextMessage1, nil, actorID); err != nil {
		t.Fatalf("Failed to send first text message: %v", err)
	}
	if ref.Status != domain.StatusTextMessage1 {
		t.Errorf("Expected TextMessage1, got %s", ref.Status)
	}

	// 3. Service user responds and selects a provider
	providerID := types.NewID()
	if err := ref.SelectProvider(providerID, actorID); err != nil {
		t.Fatalf("Failed to select provider: %v", err)
	}
	if ref.Status != domain.StatusProviderAwaitingStart {
		t.Errorf("Expected ProviderAwaitingStart, got %s", ref.Status)
	}
	if ref.DateOfProviderSelection == nil {
		t.Error("Provider selection date should be recorded")
	}

	// 4. Provider accepts and starts the programme
	if err := ref.Apply(domain.RuleProviderAccepted, nil, actorID); err != nil {
		t.Fatalf("Failed to accept: %v", err)
	}
	started := time.Now().AddDate(0, -5, 0)
	if err := ref.StartProgramme(started); err != nil {
		t.Fatalf("Failed to record programme start: %v", err)
	}

	// 5. Provider reports engagement and weights over the programme
	if err := ref.RecordWeight(104.5, started); err != nil {
		t.Fatalf("Failed to record first weight: %v", err)
	}
	lastSession := time.Now().AddDate(0, -4, 0)
	if err := ref.RecordWeight(98.2, lastSession); err != nil {
		t.Fatalf("Failed to record last weight: %v", err)
	}
	if err := ref.RecordEngagement(lastSession); err != nil {
		t.Fatalf("Failed to record engagement: %v", err)
	}

	// 6. Provider reports completion
	if err := ref.CompleteProgramme(lastSession); err != nil {
		t.Fatalf("Failed to record completion: %v", err)
	}

	// 7. Readiness calculation marks the referral due for discharge
	thresholds, err := discharge.NewThresholds(70, 84, 25)
	if err != nil {
		t.Fatalf("Failed to build thresholds: %v", err)
	}
	calculator := discharge.NewCalculator(thresholds)

	readiness, err := calculator.Evaluate(ref)
	if err != nil {
		t.Fatalf("Failed to evaluate readiness: %v", err)
	}
	if !readiness.Due {
		t.Fatal("Referral should be due for discharge")
	}
	if readiness.ProgrammeOutcome != domain.OutcomeComplete {
		t.Errorf("Expected Complete outcome, got %s", readiness.ProgrammeOutcome)
	}
	if readiness.Status != domain.StatusAwaitingDischarge {
		t.Errorf("Expected AwaitingDischarge, got %s", readiness.Status)
	}

	// 8. Apply the readiness verdict and run the discharge statuses
	if err := ref.SetProgrammeOutcome(readiness.ProgrammeOutcome); err != nil {
		t.Fatalf("Failed to set outcome: %v", err)
	}
	if err := ref.Apply(domain.RuleAwaitingDischarge, nil, actorID); err != nil {
		t.Fatalf("Failed to move to AwaitingDischarge: %v", err)
	}
	if err := ref.Apply(domain.RuleSentForDischarge, nil, actorID); err != nil {
		t.Fatalf("Failed to move to SentForDischarge: %v", err)
	}
	if err := ref.Apply(domain.RuleComplete, nil, actorID); err != nil {
		t.Fatalf("Failed to complete: %v", err)
	}

	if ref.Status != domain.StatusComplete {
		t.Errorf("Expected Complete, got %s", ref.Status)
	}
	if !ref.Status.IsTerminal() {
		t.Error("Complete should be terminal")
	}
	if ref.DateCompletedProgramme == nil {
		t.Error("Completion date should be set")
	}

	// 9. Every mutation left an audit entry
	audits := ref.PendingAudit()
	if len(audits) < 6 {
		t.Errorf("Expected at least 6 audit entries, got %d", len(audits))
	}
	for _, a := range audits {
		if a.ActorID != actorID {
			t.Errorf("Audit entry %s has wrong actor", a.ID)
		}
	}

	// 10. A completed referral cannot move again
	if err := ref.Apply(domain.RuleCancel, nil, actorID); err == nil {
		t.Error("Terminal referral should reject further transitions")
	}
}

// TestFailedToContactClosesReferral exercises the contact pathway running
// out of road for a non-GP referral.
func TestFailedToContactClosesReferral(t *testing.T) {
	actorID := types.NewID()
	nhsNumber, err := types.ParseNHSNumber("9434765927")
	if err != nil {
		t.Fatalf("Failed to parse NHS number: %v", err)
	}

	ref, err := domain.NewReferral(domain.SourcePharmacyReferral, nhsNumber, time.Now(), actorID)
	if err != nil {
		t.Fatalf("Failed to create referral: %v", err)
	}

	steps := []domain.TransitionRule{
		domain.RuleTextMessage1,
		domain.RuleTextMessage2,
		domain.RuleChatBotCall1,
		domain.RuleChatBotTransfer,
		domain.RuleRmcCall,
		domain.RuleTextMessage3,
	}
	for _, rule := range steps {
		if err := ref.Apply(rule, nil, actorID); err != nil {
			t.Fatalf("Failed to apply %s: %v", rule.Name, err)
		}
	}

	if err := ref.Apply(domain.RuleFailedToContact, nil, actorID); err != nil {
		t.Fatalf("Failed to close as failed to contact: %v", err)
	}

	// Non-GP referrals close back through the text-message channel
	if ref.Status != domain.StatusFailedToContactTextMessage {
		t.Errorf("Expected RejectedToTextMessage, got %s", ref.Status)
	}
}

// TestGuardProtectsEventPayloads checks the privacy guard recognises the
// identifiers that referral events must only carry masked.
func TestGuardProtectsEventPayloads(t *testing.T) {
	guard := privacy.NewGuard(nil, privacy.DefaultGuardConfig())

	rawPayload := `{"referral_id":"abc","nhs_number":"9434765919"}`
	if !guard.ContainsPII(rawPayload) {
		t.Error("Raw NHS number in a payload should be detected")
	}

	maskedPayload := `{"referral_id":"abc","nhs_number":"******5919"}`
	if guard.ContainsPII(maskedPayload) {
		t.Error("Masked NHS number should pass")
	}
}
