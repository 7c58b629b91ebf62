// Package tsa is an in-process RFC 3161 timestamping authority. Audit
// checkpoints are countersigned with its tokens so the trail can prove a
// checkpoint existed at a point in time without an external service.
package tsa

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"strconv"
	"strings"

	"encoding/asn1"
)

// Config holds the signing material and policy of the authority.
type Config struct {
	// PolicyOID identifies the policy timestamps are issued under,
	// as a dotted string.
	PolicyOID string

	// Certificate and Chain are the signing certificate and its chain.
	Certificate *x509.Certificate
	Chain       []*x509.Certificate

	// Signer holds the private key. Production deployments load it
	// from an HSM, development uses a generated self-signed pair.
	Signer crypto.Signer

	// HashAlgorithm for issued tokens.
	HashAlgorithm crypto.Hash

	// AccuracySeconds is the claimed clock accuracy.
	AccuracySeconds int
}

// DefaultConfig returns the policy defaults without signing material.
func DefaultConfig() *Config {
	return &Config{
		PolicyOID:       "1.3.6.1.4.1.99999.1.1",
		HashAlgorithm:   crypto.SHA256,
		AccuracySeconds: 1,
	}
}

// parsePolicyOID converts a dotted OID string into its ASN.1 form.
func parsePolicyOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("policy OID %q is too short", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("policy OID %q has an invalid arc %q", s, p)
		}
		oid[i] = n
	}
	return oid, nil
}
