package organisation

import (
	"context"
	"log"

	"github.com/nhsd-wmp/platform/internal/adapters/msk"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// Lookup is the slice of organisation lookups the discharge workflows need
type Lookup interface {
	GPPractice(ctx context.Context, odsCode string) (*Organisation, error)
	MSKOrganisation(ctx context.Context, code string) (*Organisation, error)
}

// Service resolves organisations from the local directory, consulting the
// legacy MSK triage system for MSK organisations the directory does not
// hold. The triage adapter is optional.
type Service struct {
	repo   *Repository
	legacy msk.Directory
}

// NewService creates an organisation service. legacy may be nil when the
// MSK adapter is disabled.
func NewService(repo *Repository, legacy msk.Directory) *Service {
	return &Service{repo: repo, legacy: legacy}
}

// GPPractice looks a GP practice up by ODS code
func (s *Service) GPPractice(ctx context.Context, odsCode string) (*Organisation, error) {
	if odsCode == "" {
		return nil, errors.BadRequest("ODS code is required")
	}
	return s.repo.GetByODSCode(ctx, odsCode)
}

// MSKOrganisation looks an MSK organisation up, falling back to the
// legacy triage system when the local directory has no record. A triage
// record without contact consent is reported as not found so callers
// degrade to the GP-only notification path.
func (s *Service) MSKOrganisation(ctx context.Context, code string) (*Organisation, error) {
	if code == "" {
		return nil, errors.BadRequest("MSK organisation code is required")
	}

	org, err := s.repo.GetByODSCode(ctx, code)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	if s.legacy == nil || !s.legacy.IsConnected() {
		return nil, errors.NotFound("organisation", code)
	}

	record, err := s.legacy.FetchOrganisation(ctx, code)
	if err != nil {
		// The triage system being unreachable must not fail the caller's
		// batch. Treat it as absence and log.
		log.Printf("msk triage lookup for %s failed: %v", code, err)
		return nil, errors.NotFound("organisation", code)
	}
	if record == nil || !record.ConsentToContact {
		return nil, errors.NotFound("organisation", code)
	}

	return &Organisation{
		ID:      types.NewID(),
		ODSCode: record.Code,
		Name:    record.Name,
		Type:    TypeMSKService,
		Active:  record.Active,
	}, nil
}
