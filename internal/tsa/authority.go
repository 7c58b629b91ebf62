package tsa

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/digitorus/timestamp"
)

// Authority issues and verifies RFC 3161 timestamp tokens.
type Authority struct {
	cfg    *Config
	policy asn1.ObjectIdentifier
	serial uint64
}

// NewAuthority creates an authority from explicit signing material.
func NewAuthority(cfg *Config) (*Authority, error) {
	if cfg == nil {
		return nil, fmt.Errorf("timestamping authority needs a configuration")
	}
	if cfg.Certificate == nil || cfg.Signer == nil {
		return nil, fmt.Errorf("timestamping authority needs a certificate and signer")
	}
	policy, err := parsePolicyOID(cfg.PolicyOID)
	if err != nil {
		return nil, err
	}
	return &Authority{
		cfg:    cfg,
		policy: policy,
		serial: uint64(time.Now().UnixNano()),
	}, nil
}

// NewSelfSignedAuthority generates a key pair and self-signed certificate
// and builds an authority around them. Suitable for development and single
// deployments; a CA-issued certificate replaces this in shared trust setups.
func NewSelfSignedAuthority(organisation, policyOID string, accuracySeconds int) (*Authority, error) {
	key, err := rsa.GenerateKey(rand.Reader, 3072)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate certificate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization:       []string{organisation},
			OrganizationalUnit: []string{"Timestamping Authority"},
			Country:            []string{"GB"},
			CommonName:         fmt.Sprintf("%s TSA", organisation),
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Certificate = cert
	cfg.Chain = []*x509.Certificate{cert}
	cfg.Signer = key
	if policyOID != "" {
		cfg.PolicyOID = policyOID
	}
	if accuracySeconds > 0 {
		cfg.AccuracySeconds = accuracySeconds
	}
	return NewAuthority(cfg)
}

// SignedTimestamp is an issued token with its issuance details.
type SignedTimestamp struct {
	Serial        uint64    `json:"serial"`
	IssuedAt      time.Time `json:"issued_at"`
	HashAlgorithm string    `json:"hash_algorithm"`
	Digest        string    `json:"digest"`
	Token         []byte    `json:"token"`
	PolicyOID     string    `json:"policy_oid"`
	Issuer        string    `json:"issuer"`
}

// Verification is the outcome of checking a token against a digest.
type Verification struct {
	Valid    bool      `json:"valid"`
	Message  string    `json:"message"`
	IssuedAt time.Time `json:"issued_at,omitempty"`
	Serial   uint64    `json:"serial,omitempty"`
	Issuer   string    `json:"issuer,omitempty"`
}

// StampHex issues a token over a hex-encoded digest.
func (a *Authority) StampHex(ctx context.Context, digestHex string) (*SignedTimestamp, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, fmt.Errorf("digest is not valid hex: %w", err)
	}
	return a.Stamp(ctx, digest)
}

// Stamp issues a token over a raw digest.
func (a *Authority) Stamp(_ context.Context, digest []byte) (*SignedTimestamp, error) {
	serial := atomic.AddUint64(&a.serial, 1)
	now := time.Now().UTC()

	ts := timestamp.Timestamp{
		HashAlgorithm:     a.cfg.HashAlgorithm,
		HashedMessage:     digest,
		Time:              now,
		Accuracy:          time.Duration(a.cfg.AccuracySeconds) * time.Second,
		SerialNumber:      new(big.Int).SetUint64(serial),
		Policy:            a.policy,
		AddTSACertificate: true,
	}

	token, err := ts.CreateResponse(a.cfg.Certificate, a.cfg.Signer)
	if err != nil {
		return nil, fmt.Errorf("issue timestamp token: %w", err)
	}

	return &SignedTimestamp{
		Serial:        serial,
		IssuedAt:      now,
		HashAlgorithm: a.cfg.HashAlgorithm.String(),
		Digest:        hex.EncodeToString(digest),
		Token:         token,
		PolicyOID:     a.cfg.PolicyOID,
		Issuer:        a.cfg.Certificate.Subject.CommonName,
	}, nil
}

// Verify checks a token against the digest it claims to cover.
func (a *Authority) Verify(_ context.Context, token, digest []byte) (*Verification, error) {
	ts, err := timestamp.ParseResponse(token)
	if err != nil {
		return &Verification{
			Valid:   false,
			Message: fmt.Sprintf("token does not parse: %v", err),
		}, nil
	}

	if !bytes.Equal(ts.HashedMessage, digest) {
		return &Verification{
			Valid:   false,
			Message: "token covers a different digest",
		}, nil
	}

	return &Verification{
		Valid:    true,
		Message:  "token verified",
		IssuedAt: ts.Time,
		Serial:   ts.SerialNumber.Uint64(),
		Issuer:   a.cfg.Certificate.Subject.CommonName,
	}, nil
}

// Certificate returns the authority's signing certificate.
func (a *Authority) Certificate() *x509.Certificate {
	return a.cfg.Certificate
}
