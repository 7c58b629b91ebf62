package notification

import (
	"context"
	"testing"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

func waitForStatus(t *testing.T, s *Service, id types.ID, want MessageStatus) *Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m, ok := s.GetMessage(id); ok && m.Status == want {
			return m
		}
		time.Sleep(10 * time.Millisecond)
	}
	m, _ := s.GetMessage(id)
	t.Fatalf("message %s did not reach status %s (got %+v)", id, want, m)
	return nil
}

func TestQueueStepDelivers(t *testing.T) {
	provider := NewMockSMSProvider()
	svc := NewService(provider, DefaultStepTemplates(), ServiceConfig{
		Workers:       1,
		BufferSize:    10,
		RetryAttempts: 3,
		RetryDelay:    10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	referralID := types.NewID()
	if err := svc.QueueStep(referralID, 2, "evt-1"); err != nil {
		t.Fatalf("QueueStep failed: %v", err)
	}

	sentCount := func() int { return len(provider.SentMessages()) }
	deadline := time.Now().Add(2 * time.Second)
	for sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	sent := provider.SentMessages()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 sent message, got %d", len(sent))
	}
	if sent[0].ReferralID != referralID {
		t.Errorf("Expected referral %s, got %s", referralID, sent[0].ReferralID)
	}
	if sent[0].Step != 2 {
		t.Errorf("Expected step 2, got %d", sent[0].Step)
	}
	if sent[0].Body != DefaultStepTemplates().Step2 {
		t.Errorf("Unexpected body: %s", sent[0].Body)
	}
}

func TestQueueStepUnknownStep(t *testing.T) {
	svc := NewService(NewMockSMSProvider(), DefaultStepTemplates(), DefaultServiceConfig())

	if err := svc.QueueStep(types.NewID(), 4, ""); err == nil {
		t.Error("Expected error for unknown contact step")
	}
}

func TestDeliveryFailureExhaustsRetries(t *testing.T) {
	provider := NewMockSMSProvider()
	provider.SetFailOnSend(true)

	svc := NewService(provider, DefaultStepTemplates(), ServiceConfig{
		Workers:       1,
		BufferSize:    10,
		RetryAttempts: 2,
		RetryDelay:    5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	msgID := types.NewID()
	err := svc.Queue(&Message{
		ID:         msgID,
		ReferralID: types.NewID(),
		Step:       1,
		Body:       "test",
	})
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}

	msg := waitForStatus(t, svc, msgID, StatusFailed)
	if msg.RetryCount != 2 {
		t.Errorf("Expected 2 attempts, got %d", msg.RetryCount)
	}
	if msg.ErrorMessage == "" {
		t.Error("Expected error message to be recorded")
	}

	stats := svc.GetStats()
	if stats.TotalFailed != 1 {
		t.Errorf("Expected 1 failed message, got %d", stats.TotalFailed)
	}
}

func TestStepForStatus(t *testing.T) {
	tests := []struct {
		status string
		step   int
		ok     bool
	}{
		{"TextMessage1", 1, true},
		{"TextMessage2", 2, true},
		{"TextMessage3", 3, true},
		{"RmcCall", 0, false},
		{"New", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			step, ok := stepForStatus(tt.status)
			if step != tt.step || ok != tt.ok {
				t.Errorf("stepForStatus(%s) = (%d, %v), want (%d, %v)",
					tt.status, step, ok, tt.step, tt.ok)
			}
		})
	}
}

func TestStepTemplates(t *testing.T) {
	templates := StepTemplates{Step1: "one", Step2: "two"}

	if body, ok := templates.ForStep(1); !ok || body != "one" {
		t.Errorf("ForStep(1) = (%q, %v)", body, ok)
	}
	if _, ok := templates.ForStep(3); ok {
		t.Error("Expected ForStep(3) to report missing template")
	}
}
