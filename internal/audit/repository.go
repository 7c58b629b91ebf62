package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// Repository is the postgres audit store. Entries land in an append-only
// table guarded by a trigger, so the hash chain and the storage layer
// enforce immutability independently.
type Repository struct {
	pool     *pgxpool.Pool
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// NewRepository creates a postgres-backed audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, sequence, timestamp, hash, prev_hash,
	actor_type, actor_id, actor_org_ods, actor_ip, actor_device,
	action, resource_type, resource_id,
	changes, correlation_id, session_id, justification`

// Initialize loads the chain head from the database
func (r *Repository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hash string
	var sequence int64
	err := r.pool.QueryRow(ctx, `
		SELECT hash, sequence FROM audit.entries
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&hash, &sequence)

	if err != nil && !strings.Contains(err.Error(), "no rows") {
		return errors.Wrap(err, "failed to load audit chain head")
	}

	r.lastHash = hash
	r.sequence = sequence
	return nil
}

// Append links the entry onto the chain and inserts it
func (r *Repository) Append(ctx context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.PrevHash = r.lastHash
	entry.Hash = entry.ComputeHash()

	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		return errors.Wrap(err, "failed to marshal changes")
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO audit.entries (
			id, timestamp, hash, prev_hash,
			actor_type, actor_id, actor_org_ods, actor_ip, actor_device,
			action, resource_type, resource_id,
			changes, correlation_id, session_id, justification
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		) RETURNING sequence`,
		entry.ID, entry.Timestamp, entry.Hash, entry.PrevHash,
		entry.ActorType, entry.ActorID, entry.ActorOrgODS, entry.ActorIP, entry.ActorDevice,
		entry.Action, entry.ResourceType, entry.ResourceID,
		changesJSON, entry.CorrelationID, entry.SessionID, entry.Justification,
	).Scan(&entry.Sequence)

	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.lastHash = entry.Hash
	r.sequence = entry.Sequence
	return nil
}

// GetLastHash returns the hash at the head of the chain
func (r *Repository) GetLastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}

// GetSequence returns the sequence at the head of the chain
func (r *Repository) GetSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// Count returns the total number of audit entries
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit.entries`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count audit entries")
	}
	return count, nil
}

// List lists audit entries with filters, newest first
func (r *Repository) List(ctx context.Context, filter ListEntriesFilter) ([]*AuditEntry, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	addCondition := func(clause string, value any) {
		conditions = append(conditions, fmt.Sprintf(clause, argNum))
		args = append(args, value)
		argNum++
	}

	if filter.ActorID != nil {
		addCondition("actor_id = $%d", *filter.ActorID)
	}
	if filter.ActorType != nil {
		addCondition("actor_type = $%d", *filter.ActorType)
	}
	if filter.Action != "" {
		addCondition("action LIKE $%d", filter.Action+"%")
	}
	if filter.ResourceType != "" {
		addCondition("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != nil {
		addCondition("resource_id = $%d", *filter.ResourceID)
	}
	if filter.StartTime != nil {
		addCondition("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		addCondition("timestamp <= $%d", *filter.EndTime)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit.entries %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count audit entries")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit.entries
		%s
		ORDER BY sequence DESC
		LIMIT $%d OFFSET $%d`, entryColumns, whereClause, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}

	return entries, total, nil
}

// FindByID finds an audit entry by ID
func (r *Repository) FindByID(ctx context.Context, id types.ID) (*AuditEntry, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM audit.entries WHERE id = $1`, entryColumns), id)

	entry, err := scanEntry(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, errors.NotFound("audit entry", id.String())
		}
		return nil, err
	}
	return entry, nil
}

// GetByResource gets audit entries for one resource, newest first
func (r *Repository) GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*AuditEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	entries, _, err := r.List(ctx, ListEntriesFilter{
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		Limit:        limit,
	})
	return entries, err
}

// VerifyChain walks the most recent entries and checks both that each
// entry's stored hash matches its content and that every entry's hash is
// the prev_hash its successor recorded.
func (r *Repository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM audit.entries
		ORDER BY sequence DESC
		LIMIT $1`, entryColumns), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	result := &VerifyResult{
		Valid:   true,
		Entries: make([]VerifyEntryResult, 0),
	}

	// Entries arrive newest first, so expectedHash at position i is the
	// prev_hash the entry one step later in time recorded.
	var expectedHash string
	for i, e := range entries {
		check := VerifyEntryResult{
			ID:           e.ID,
			Sequence:     e.Sequence,
			Hash:         e.Hash,
			PrevHash:     e.PrevHash,
			Action:       e.Action,
			ContentValid: true,
			LinkageValid: true,
			Valid:        true,
		}

		computed := e.ComputeHash()
		check.ComputedHash = computed
		if computed != e.Hash {
			check.ContentValid = false
			check.Valid = false
			check.ViolationType = "content"
			result.ContentInvalid++
			result.Valid = false
			result.Violations = append(result.Violations, fmt.Sprintf(
				"CONTENT TAMPERED: entry %s (seq %d) stored hash does not match content", e.ID, e.Sequence))
		} else {
			result.ContentValid++
		}

		if i > 0 && expectedHash != "" && e.Hash != expectedHash {
			check.LinkageValid = false
			check.Valid = false
			result.LinkageInvalid++
			result.Valid = false
			result.Violations = append(result.Violations, fmt.Sprintf(
				"CHAIN BROKEN: entry %s (seq %d) hash does not match successor's prev_hash", e.ID, e.Sequence))
			if check.ViolationType == "content" {
				check.ViolationType = "both"
			} else {
				check.ViolationType = "linkage"
			}
		} else if i > 0 {
			result.LinkageValid++
		}

		if includeDetails {
			result.Entries = append(result.Entries, check)
		}

		expectedHash = e.PrevHash
		result.Checked++
	}

	return result, nil
}

// SaveCheckpoint persists a witnessed checkpoint
func (r *Repository) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit.checkpoints (
			id, checkpoint_hash, last_sequence, entry_count,
			witness_type, witness_proof, witness_url, witness_status,
			created_at, confirmed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		checkpoint.ID, checkpoint.CheckpointHash, checkpoint.LastSequence,
		checkpoint.EntryCount, checkpoint.WitnessType, checkpoint.WitnessProof,
		checkpoint.WitnessURL, checkpoint.WitnessStatus,
		checkpoint.CreatedAt, checkpoint.ConfirmedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save checkpoint")
	}
	return nil
}

const checkpointColumns = `id, checkpoint_hash, last_sequence, entry_count,
	witness_type, witness_proof, witness_url, witness_status,
	created_at, confirmed_at`

// GetLatestCheckpoint returns the most recent checkpoint
func (r *Repository) GetLatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM audit.checkpoints
		ORDER BY created_at DESC
		LIMIT 1`, checkpointColumns))

	cp, err := scanCheckpoint(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, errors.NotFound("checkpoint", "latest")
		}
		return nil, err
	}
	return cp, nil
}

// GetCheckpoint returns one checkpoint by ID
func (r *Repository) GetCheckpoint(ctx context.Context, id types.ID) (*Checkpoint, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM audit.checkpoints WHERE id = $1`, checkpointColumns), id)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, errors.NotFound("checkpoint", id.String())
		}
		return nil, err
	}
	return cp, nil
}

// ListCheckpoints returns checkpoints, newest first
func (r *Repository) ListCheckpoints(ctx context.Context, limit int) ([]Checkpoint, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM audit.checkpoints
		ORDER BY created_at DESC
		LIMIT $1`, checkpointColumns), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoints")
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*AuditEntry, error) {
	var e AuditEntry
	var changesJSON []byte

	err := row.Scan(
		&e.ID, &e.Sequence, &e.Timestamp, &e.Hash, &e.PrevHash,
		&e.ActorType, &e.ActorID, &e.ActorOrgODS, &e.ActorIP, &e.ActorDevice,
		&e.Action, &e.ResourceType, &e.ResourceID,
		&changesJSON, &e.CorrelationID, &e.SessionID, &e.Justification,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan audit entry")
	}

	if len(changesJSON) > 0 {
		if err := json.Unmarshal(changesJSON, &e.Changes); err != nil {
			e.Changes = nil
		}
	}
	return &e, nil
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	err := row.Scan(
		&cp.ID, &cp.CheckpointHash, &cp.LastSequence, &cp.EntryCount,
		&cp.WitnessType, &cp.WitnessProof, &cp.WitnessURL, &cp.WitnessStatus,
		&cp.CreatedAt, &cp.ConfirmedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan checkpoint")
	}
	return &cp, nil
}

// VerifyResult contains chain verification results
type VerifyResult struct {
	Valid           bool                `json:"valid"`
	Checked         int                 `json:"checked"`
	ContentValid    int                 `json:"content_valid"`
	ContentInvalid  int                 `json:"content_invalid"`
	LinkageValid    int                 `json:"linkage_valid"`
	LinkageInvalid  int                 `json:"linkage_invalid"`
	Violations      []string            `json:"violations,omitempty"`
	Entries         []VerifyEntryResult `json:"entries,omitempty"`
	LastCheckpoint  string              `json:"last_checkpoint,omitempty"`
	CheckpointValid bool                `json:"checkpoint_valid,omitempty"`
}

// VerifyEntryResult is the verification outcome for one entry
type VerifyEntryResult struct {
	ID            types.ID `json:"id"`
	Sequence      int64    `json:"sequence"`
	Hash          string   `json:"hash"`
	ComputedHash  string   `json:"computed_hash,omitempty"`
	PrevHash      string   `json:"prev_hash"`
	Valid         bool     `json:"valid"`
	ContentValid  bool     `json:"content_valid"`
	LinkageValid  bool     `json:"linkage_valid"`
	Action        string   `json:"action"`
	ViolationType string   `json:"violation_type,omitempty"`
}
