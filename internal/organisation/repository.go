package organisation

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/metrics"
)

// Repository provides database operations for organisations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new organisation repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an organisation
func (r *Repository) Create(ctx context.Context, org *Organisation) error {
	query := `
		INSERT INTO referrals.organisations (
			id, ods_code, name, type, active, discharge_letters
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		org.ID, org.ODSCode, org.Name, org.Type, org.Active, org.DischargeLetters,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.BadRequest("organisation with this ODS code already exists")
		}
		return errors.Wrap(err, "failed to create organisation")
	}
	return nil
}

// GetByODSCode retrieves an organisation by its ODS code
func (r *Repository) GetByODSCode(ctx context.Context, odsCode string) (*Organisation, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("organisation_get", time.Since(start)) }()

	query := `
		SELECT id, ods_code, name, type, active, discharge_letters,
			created_at, updated_at
		FROM referrals.organisations
		WHERE ods_code = $1`

	org := &Organisation{}
	err := r.pool.QueryRow(ctx, query, odsCode).Scan(
		&org.ID, &org.ODSCode, &org.Name, &org.Type, &org.Active,
		&org.DischargeLetters, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("organisation", odsCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get organisation")
	}
	return org, nil
}

// List retrieves organisations, optionally filtered by type
func (r *Repository) List(ctx context.Context, orgType *OrganisationType, activeOnly bool) ([]Organisation, error) {
	query := `
		SELECT id, ods_code, name, type, active, discharge_letters,
			created_at, updated_at
		FROM referrals.organisations
		WHERE ($1::text IS NULL OR type = $1)
		  AND (NOT $2 OR active)
		ORDER BY name`

	rows, err := r.pool.Query(ctx, query, orgType, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list organisations")
	}
	defer rows.Close()

	var orgs []Organisation
	for rows.Next() {
		var org Organisation
		if err := rows.Scan(
			&org.ID, &org.ODSCode, &org.Name, &org.Type, &org.Active,
			&org.DischargeLetters, &org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan organisation")
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// SetDischargeLetters records an organisation's discharge-letter preference
func (r *Repository) SetDischargeLetters(ctx context.Context, odsCode string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE referrals.organisations
		SET discharge_letters = $2, updated_at = NOW()
		WHERE ods_code = $1`, odsCode, enabled)
	if err != nil {
		return errors.Wrap(err, "failed to update organisation")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("organisation", odsCode)
	}
	return nil
}
