package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/nhsd-wmp/platform/internal/shared/config"
)

func TestNewWitnessSelection(t *testing.T) {
	tsaCfg := config.TSAConfig{
		Organisation:    "Test Programme",
		PolicyOID:       "1.3.6.1.4.1.99999.1.1",
		AccuracySeconds: 1,
	}

	tests := []struct {
		name     string
		witness  string
		expect   WitnessType
		expectOK bool
	}{
		{"Default is local", "", WitnessTypeLocal, true},
		{"Local", "local", WitnessTypeLocal, true},
		{"RFC 3161", "rfc3161", WitnessTypeRFC3161TSA, true},
		{"Composite", "composite", WitnessTypeComposite, true},
		{"Unknown rejected", "blockchain", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWitness(config.AuditConfig{Witness: tt.witness, TSA: tsaCfg})
			if !tt.expectOK {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewWitness: %v", err)
			}
			if w.Type() != tt.expect {
				t.Errorf("Expected witness type %s, got %s", tt.expect, w.Type())
			}
		})
	}
}

func TestRFC3161WitnessRoundTrip(t *testing.T) {
	w, err := NewWitness(config.AuditConfig{
		Witness: "rfc3161",
		TSA: config.TSAConfig{
			Organisation:    "Test Programme",
			PolicyOID:       "1.3.6.1.4.1.99999.1.1",
			AccuracySeconds: 1,
		},
	})
	if err != nil {
		t.Fatalf("NewWitness: %v", err)
	}

	sum := sha256.Sum256([]byte("chain head"))
	hash := hex.EncodeToString(sum[:])

	proof, _, err := w.Timestamp(context.Background(), hash, 7, 7)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if len(proof) == 0 {
		t.Fatal("Expected a proof")
	}

	status, err := w.GetStatus(context.Background(), proof)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != WitnessStatusConfirmed {
		t.Errorf("Expected confirmed status, got %s", status)
	}

	valid, err := w.Verify(context.Background(), hash, proof)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !valid {
		t.Error("Expected proof to verify against its hash")
	}

	otherSum := sha256.Sum256([]byte("other head"))
	valid, err = w.Verify(context.Background(), hex.EncodeToString(otherSum[:]), proof)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if valid {
		t.Error("Expected proof to fail against a different hash")
	}
}
