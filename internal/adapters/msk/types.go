// Package msk connects to the legacy MSK triage system, which remains the
// system of record for MSK service organisations and their contact
// consent flags.
package msk

import (
	"context"
	"time"
)

// Organisation is an MSK organisation as held by the triage system
type Organisation struct {
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Active           bool      `json:"active"`
	ConsentToContact bool      `json:"consent_to_contact"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Directory is the lookup interface implemented by the triage-system
// adapter. Implementations must translate absence into a nil record, not
// an error; connectivity problems are errors.
type Directory interface {
	FetchOrganisation(ctx context.Context, code string) (*Organisation, error)
	IsConnected() bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) error
}
