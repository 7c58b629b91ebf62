// Package infrastructure implements referral persistence on PostgreSQL.
package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nhsd-wmp/platform/internal/referral/domain"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/metrics"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const referralColumns = `
	id, source, nhs_number, date_of_birth, given_name, family_name,
	status, status_reason, programme_outcome,
	date_of_referral, date_of_provider_selection,
	date_started_programme, date_completed_programme, date_of_last_engagement,
	first_recorded_weight, date_of_first_weight,
	last_recorded_weight, date_of_last_weight,
	gp_practice_ods_code, msk_organisation_code,
	provider_id, consent_to_notify_gp,
	created_at, updated_at`

// Save inserts a new referral together with its creation audit entry
func (r *PostgresRepository) Save(ctx context.Context, ref *domain.Referral) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("referral_save", time.Since(start)) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO referrals.referrals (` + referralColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)`

	_, err = tx.Exec(ctx, query,
		ref.ID, ref.Source, ref.NHSNumber, ref.DateOfBirth, ref.GivenName, ref.FamilyName,
		ref.Status, ref.StatusReason, ref.ProgrammeOutcome,
		ref.DateOfReferral, ref.DateOfProviderSelection,
		ref.DateStartedProgramme, ref.DateCompletedProgramme, nullableTime(ref.DateOfLastEngagement),
		ref.FirstRecordedWeight, ref.DateOfFirstWeight,
		ref.LastRecordedWeight, ref.DateOfLastWeight,
		ref.GPPracticeODSCode, ref.MSKOrganisationCode,
		ref.ProviderID, ref.ConsentToNotifyGP,
		ref.CreatedAt, ref.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.BadRequest("referral with this id already exists")
		}
		return errors.Wrap(err, "failed to save referral")
	}

	if err := r.saveAudit(ctx, tx, ref.PendingAudit()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	ref.ClearPendingAudit()
	return nil
}

// Update persists the referral's current state and any pending audit
// entries in one transaction
func (r *PostgresRepository) Update(ctx context.Context, ref *domain.Referral) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("referral_update", time.Since(start)) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE referrals.referrals SET
			status = $2, status_reason = $3, programme_outcome = $4,
			date_of_provider_selection = $5,
			date_started_programme = $6, date_completed_programme = $7,
			date_of_last_engagement = $8,
			first_recorded_weight = $9, date_of_first_weight = $10,
			last_recorded_weight = $11, date_of_last_weight = $12,
			provider_id = $13, consent_to_notify_gp = $14,
			updated_at = $15
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		ref.ID,
		ref.Status, ref.StatusReason, ref.ProgrammeOutcome,
		ref.DateOfProviderSelection,
		ref.DateStartedProgramme, ref.DateCompletedProgramme,
		nullableTime(ref.DateOfLastEngagement),
		ref.FirstRecordedWeight, ref.DateOfFirstWeight,
		ref.LastRecordedWeight, ref.DateOfLastWeight,
		ref.ProviderID, ref.ConsentToNotifyGP,
		ref.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update referral")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("referral", ref.ID.String())
	}

	if err := r.saveAudit(ctx, tx, ref.PendingAudit()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	ref.ClearPendingAudit()
	return nil
}

func (r *PostgresRepository) saveAudit(ctx context.Context, tx pgx.Tx, entries []domain.StatusAudit) error {
	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO referrals.status_audit (
				id, referral_id, status, reason, actor_id, recorded_at
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.ReferralID, e.Status, e.Reason, e.ActorID, e.RecordedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to save audit entry")
		}
		metrics.RecordAuditEntry()
	}
	return nil
}

// FindByID finds a referral by id
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals.referrals WHERE id = $1`

	ref, err := scanReferral(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("referral", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find referral")
	}
	return ref, nil
}

// FindByNHSNumber returns every referral ever recorded for an NHS number
func (r *PostgresRepository) FindByNHSNumber(ctx context.Context, n types.NHSNumber) ([]domain.Referral, error) {
	query := `SELECT ` + referralColumns + `
		FROM referrals.referrals
		WHERE nhs_number = $1
		ORDER BY date_of_referral`

	rows, err := r.pool.Query(ctx, query, n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query referrals")
	}
	defer rows.Close()
	return collectReferrals(rows)
}

// FindByStatus returns referrals in a status, oldest date of referral
// first. A non-positive limit returns all of them.
func (r *PostgresRepository) FindByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Referral, error) {
	query := `SELECT ` + referralColumns + `
		FROM referrals.referrals
		WHERE status = $1
		ORDER BY date_of_referral`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query referrals by status")
	}
	defer rows.Close()
	return collectReferrals(rows)
}

// List returns referrals matching the filter plus the total match count
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Referral, int, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Source != nil {
		where = append(where, "source = "+arg(*filter.Source))
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(*filter.Status))
	}
	if filter.NHSNumber != "" {
		where = append(where, "nhs_number = "+arg(filter.NHSNumber))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM referrals.referrals WHERE ` + whereClause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count referrals")
	}

	orderBy := "date_of_referral"
	switch filter.OrderBy {
	case "created_at", "updated_at", "date_of_referral", "status":
		orderBy = filter.OrderBy
	}
	direction := "ASC"
	if filter.OrderDesc {
		direction = "DESC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM referrals.referrals WHERE %s ORDER BY %s %s LIMIT %s OFFSET %s`,
		referralColumns, whereClause, orderBy, direction, arg(limit), arg(filter.Offset))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list referrals")
	}
	defer rows.Close()

	refs, err := collectReferrals(rows)
	if err != nil {
		return nil, 0, err
	}
	return refs, total, nil
}

// GetAudit returns a referral's status history, oldest first
func (r *PostgresRepository) GetAudit(ctx context.Context, referralID types.ID, limit, offset int) ([]domain.StatusAudit, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, referral_id, status, reason, actor_id, recorded_at
		FROM referrals.status_audit
		WHERE referral_id = $1
		ORDER BY recorded_at
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, referralID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	var entries []domain.StatusAudit
	for rows.Next() {
		var e domain.StatusAudit
		if err := rows.Scan(&e.ID, &e.ReferralID, &e.Status, &e.Reason, &e.ActorID, &e.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindProviderByID finds a provider by id
func (r *PostgresRepository) FindProviderByID(ctx context.Context, id types.ID) (*domain.Provider, error) {
	query := `SELECT id, name, ods_code, active, created_at FROM referrals.providers WHERE id = $1`

	p := &domain.Provider{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.ODSCode, &p.Active, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("provider", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find provider")
	}
	return p, nil
}

// ListProviders lists providers, optionally active only
func (r *PostgresRepository) ListProviders(ctx context.Context, activeOnly bool) ([]domain.Provider, error) {
	query := `SELECT id, name, ods_code, active, created_at
		FROM referrals.providers
		WHERE NOT $1 OR active
		ORDER BY name`

	rows, err := r.pool.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list providers")
	}
	defer rows.Close()

	var providers []domain.Provider
	for rows.Next() {
		var p domain.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.ODSCode, &p.Active, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan provider")
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReferral(row rowScanner) (*domain.Referral, error) {
	ref := &domain.Referral{}
	var lastEngagement *time.Time

	err := row.Scan(
		&ref.ID, &ref.Source, &ref.NHSNumber, &ref.DateOfBirth, &ref.GivenName, &ref.FamilyName,
		&ref.Status, &ref.StatusReason, &ref.ProgrammeOutcome,
		&ref.DateOfReferral, &ref.DateOfProviderSelection,
		&ref.DateStartedProgramme, &ref.DateCompletedProgramme, &lastEngagement,
		&ref.FirstRecordedWeight, &ref.DateOfFirstWeight,
		&ref.LastRecordedWeight, &ref.DateOfLastWeight,
		&ref.GPPracticeODSCode, &ref.MSKOrganisationCode,
		&ref.ProviderID, &ref.ConsentToNotifyGP,
		&ref.CreatedAt, &ref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastEngagement != nil {
		ref.DateOfLastEngagement = *lastEngagement
	}
	return ref, nil
}

func collectReferrals(rows pgx.Rows) ([]domain.Referral, error) {
	var refs []domain.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan referral")
		}
		refs = append(refs, *ref)
	}
	return refs, rows.Err()
}

// nullableTime maps the zero-time sentinel to NULL
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
