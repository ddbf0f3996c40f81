package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"veil/internal/commitment"
	"veil/internal/reveal"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
)

// uniqueViolation is the Postgres error code raised by the partial unique
// index enforcing one active reveal per handle.
const uniqueViolation = "23505"

// PostgresStore persists reveal requests on a pgx pool. A partial unique
// index on (handle) WHERE stage NOT IN ('purged','aborted') provides the
// per-handle exclusivity guarantee at the database level.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, r reveal.Request) error {
	query := `
		INSERT INTO reveal_requests (
			id, handle, tier, trigger_type, requester_ref, stage,
			stage_entered_at, justification_hash, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(r.ID),
		r.Handle.String(),
		string(r.Tier),
		string(r.Trigger),
		r.RequesterRef,
		string(r.Stage),
		r.StageEnteredAt,
		r.JustificationHash[:],
		r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("active reveal for handle %s: %w", r.Handle, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert reveal request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID id.RevealRequestID) (reveal.Request, error) {
	query := selectRequest + ` WHERE id = $1`
	r, err := scanRequest(s.pool.QueryRow(ctx, query, uuid.UUID(requestID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return reveal.Request{}, fmt.Errorf("reveal request %s: %w", requestID, sentinel.ErrNotFound)
	}
	return r, err
}

func (s *PostgresStore) GetActiveByHandle(ctx context.Context, handle id.Handle) (reveal.Request, error) {
	query := selectRequest + ` WHERE handle = $1 AND stage NOT IN ('purged', 'aborted')`
	r, err := scanRequest(s.pool.QueryRow(ctx, query, handle.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return reveal.Request{}, fmt.Errorf("active reveal for handle %s: %w", handle, sentinel.ErrNotFound)
	}
	return r, err
}

func (s *PostgresStore) UpdateStage(ctx context.Context, r reveal.Request, fromStage reveal.Stage) error {
	query := `
		UPDATE reveal_requests
		SET stage = $2,
		    stage_entered_at = $3,
		    countersigned_by = $4,
		    countersigned_at = $5,
		    disclosure_jti = $6
		WHERE id = $1 AND stage = $7
	`
	var countersignedAt *time.Time
	if !r.CountersignedAt.IsZero() {
		countersignedAt = &r.CountersignedAt
	}
	tag, err := s.pool.Exec(ctx, query,
		uuid.UUID(r.ID),
		string(r.Stage),
		r.StageEnteredAt,
		nullIfEmpty(r.CountersignedBy),
		countersignedAt,
		nullIfEmpty(r.DisclosureJTI),
		string(fromStage),
	)
	if err != nil {
		return fmt.Errorf("update reveal stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("reveal request %s stage moved: %w", r.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) ListInStage(ctx context.Context, stage reveal.Stage) ([]reveal.Request, error) {
	query := selectRequest + ` WHERE stage = $1 ORDER BY stage_entered_at`
	rows, err := s.pool.Query(ctx, query, string(stage))
	if err != nil {
		return nil, fmt.Errorf("query reveal requests: %w", err)
	}
	defer rows.Close()

	var out []reveal.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reveal request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveArtifact(ctx context.Context, requestID id.RevealRequestID, a reveal.Artifact) error {
	query := `
		UPDATE reveal_requests
		SET artifact_key_id = $2, artifact_ciphertext = $3
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, uuid.UUID(requestID), a.KeyID, a.Ciphertext)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reveal request %s: %w", requestID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, requestID id.RevealRequestID) (reveal.Artifact, error) {
	query := `
		SELECT artifact_key_id, artifact_ciphertext
		FROM reveal_requests
		WHERE id = $1 AND artifact_key_id IS NOT NULL
	`
	var a reveal.Artifact
	err := s.pool.QueryRow(ctx, query, uuid.UUID(requestID)).Scan(&a.KeyID, &a.Ciphertext)
	if errors.Is(err, pgx.ErrNoRows) {
		return reveal.Artifact{}, fmt.Errorf("artifact for reveal request %s: %w", requestID, sentinel.ErrNotFound)
	}
	if err != nil {
		return reveal.Artifact{}, fmt.Errorf("query artifact: %w", err)
	}
	return a, nil
}

const selectRequest = `
	SELECT id, handle, tier, trigger_type, requester_ref, stage,
	       stage_entered_at, justification_hash, countersigned_by,
	       countersigned_at, disclosure_jti, created_at
	FROM reveal_requests
`

func scanRequest(row pgx.Row) (reveal.Request, error) {
	var (
		r               reveal.Request
		rid             uuid.UUID
		handle          string
		tier            string
		trigger         string
		stage           string
		justification   []byte
		countersignedBy *string
		countersignedAt *time.Time
		disclosureJTI   *string
	)
	err := row.Scan(
		&rid, &handle, &tier, &trigger, &r.RequesterRef, &stage,
		&r.StageEnteredAt, &justification, &countersignedBy,
		&countersignedAt, &disclosureJTI, &r.CreatedAt,
	)
	if err != nil {
		return reveal.Request{}, err
	}
	r.ID = id.RevealRequestID(rid)
	r.Handle = id.Handle(handle)
	r.Tier = id.Tier(tier)
	r.Trigger = reveal.TriggerType(trigger)
	r.Stage = reveal.Stage(stage)
	if len(justification) == commitment.HashSize {
		copy(r.JustificationHash[:], justification)
	}
	if countersignedBy != nil {
		r.CountersignedBy = *countersignedBy
	}
	if countersignedAt != nil {
		r.CountersignedAt = *countersignedAt
	}
	if disclosureJTI != nil {
		r.DisclosureJTI = *disclosureJTI
	}
	return r, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
