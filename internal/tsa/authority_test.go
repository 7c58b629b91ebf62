package tsa

import (
	"context"
	"crypto/sha256"
	"testing"
)

func newTestAuthority(t *testing.T) *Authority {
	t.Helper()
	a, err := NewSelfSignedAuthority("Test Programme", "", 0)
	if err != nil {
		t.Fatalf("NewSelfSignedAuthority: %v", err)
	}
	return a
}

func TestStampAndVerify(t *testing.T) {
	a := newTestAuthority(t)
	digest := sha256.Sum256([]byte("checkpoint payload"))

	st, err := a.Stamp(context.Background(), digest[:])
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	if len(st.Token) == 0 {
		t.Fatal("Expected a token")
	}
	if st.Issuer != "Test Programme TSA" {
		t.Errorf("Expected issuer from certificate, got %q", st.Issuer)
	}

	v, err := a.Verify(context.Background(), st.Token, digest[:])
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Valid {
		t.Fatalf("Expected token to verify, got %q", v.Message)
	}

	other := sha256.Sum256([]byte("tampered payload"))
	v, err = a.Verify(context.Background(), st.Token, other[:])
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Valid {
		t.Error("Expected a different digest to fail verification")
	}
}

func TestStampHexRejectsBadInput(t *testing.T) {
	a := newTestAuthority(t)
	if _, err := a.StampHex(context.Background(), "not-hex"); err == nil {
		t.Error("Expected an error for a non-hex digest")
	}
}

func TestParsePolicyOID(t *testing.T) {
	tests := []struct {
		in       string
		expectOK bool
	}{
		{"1.3.6.1.4.1.99999.1.1", true},
		{"1.2", true},
		{"1", false},
		{"1.two.3", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := parsePolicyOID(tt.in)
			if tt.expectOK && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if !tt.expectOK && err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
