package domain

import (
	"context"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// Repository defines the interface for referral persistence. Update
// persists the aggregate's field changes and its pending audit entries in
// a single transaction.
type Repository interface {
	Save(ctx context.Context, r *Referral) error
	FindByID(ctx context.Context, id types.ID) (*Referral, error)
	FindByNHSNumber(ctx context.Context, n types.NHSNumber) ([]Referral, error)
	Update(ctx context.Context, r *Referral) error

	// Query operations
	List(ctx context.Context, filter ListFilter) ([]Referral, int, error)
	// FindByStatus returns referrals in the given status, oldest date of
	// referral first. A limit of zero or less means no limit.
	FindByStatus(ctx context.Context, status Status, limit int) ([]Referral, error)

	// Audit operations
	GetAudit(ctx context.Context, referralID types.ID, limit, offset int) ([]StatusAudit, error)

	// Provider operations
	FindProviderByID(ctx context.Context, id types.ID) (*Provider, error)
	ListProviders(ctx context.Context, activeOnly bool) ([]Provider, error)
}

// ListFilter defines filters for listing referrals
type ListFilter struct {
	Source    *ReferralSource `json:"source,omitempty"`
	Status    *Status         `json:"status,omitempty"`
	NHSNumber string          `json:"nhs_number,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
	OrderBy   string          `json:"order_by,omitempty"`
	OrderDesc bool            `json:"order_desc,omitempty"`
}
