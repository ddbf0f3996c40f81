package audittrail

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veil/internal/commitment"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
	txcontext "veil/pkg/platform/tx"
)

// PostgresStore persists the trail in append-only tables. Commitments land
// with leaf_index NULL; FinalizeCheckpoint assigns the next contiguous range
// and seals the checkpoint in one transaction, so a crash mid-finalize
// leaves commitments pending rather than half-sealed.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) AppendCommitment(ctx context.Context, c Commitment) (Commitment, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.LeafIndex = LeafUnassigned
	query := `
		INSERT INTO commitments (id, handle, category, payload_hash, leaf_index, created_at)
		VALUES ($1, $2, $3, $4, NULL, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID),
		c.Handle.String(),
		c.Category,
		c.PayloadHash[:],
		c.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return Commitment{}, fmt.Errorf("commitment %s: %w", c.ID, sentinel.ErrConflict)
		}
		return Commitment{}, fmt.Errorf("insert commitment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FinalizeCheckpoint(ctx context.Context, cp Checkpoint, order []id.CommitmentID) (Checkpoint, error) {
	if len(order) == 0 {
		return Checkpoint{}, fmt.Errorf("empty checkpoint: %w", sentinel.ErrConflict)
	}
	if cp.FinalizedAt.IsZero() {
		cp.FinalizedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var first int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_leaf) + 1, 0) FROM checkpoints`,
	).Scan(&first)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read leaf frontier: %w", err)
	}
	cp.FirstLeaf = first
	cp.LastLeaf = first + int64(len(order)) - 1

	// The WHERE clause makes a concurrent finalize lose cleanly instead of
	// producing an overlapping range.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, root_hash, first_leaf, last_leaf, finalized_at)
		SELECT $1, $2, $3, $4, $5
		WHERE $3 = COALESCE((SELECT MAX(last_leaf) + 1 FROM checkpoints), 0)
	`,
		uuid.UUID(cp.ID), cp.RootHash[:], cp.FirstLeaf, cp.LastLeaf, cp.FinalizedAt,
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	} else if affected == 0 {
		return Checkpoint{}, fmt.Errorf("leaf frontier moved during finalize: %w", sentinel.ErrConflict)
	}

	for offset, cid := range order {
		res, err := tx.ExecContext(ctx, `
			UPDATE commitments
			SET leaf_index = $2
			WHERE id = $1 AND leaf_index IS NULL
		`, uuid.UUID(cid), first+int64(offset))
		if err != nil {
			return Checkpoint{}, fmt.Errorf("assign leaf %s: %w", cid, err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return Checkpoint{}, fmt.Errorf("assign leaf %s: %w", cid, err)
		} else if affected == 0 {
			return Checkpoint{}, fmt.Errorf("commitment %s already sealed or missing: %w", cid, sentinel.ErrConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit finalize: %w", err)
	}
	return cp, nil
}

func (s *PostgresStore) GetCommitment(ctx context.Context, cid id.CommitmentID) (Commitment, error) {
	query := `
		SELECT id, handle, category, payload_hash, leaf_index, created_at
		FROM commitments
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(cid))
	c, err := scanCommitment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Commitment{}, fmt.Errorf("commitment %s: %w", cid, sentinel.ErrNotFound)
	}
	return c, err
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, cpID id.CheckpointID) (Checkpoint, error) {
	query := `
		SELECT id, root_hash, first_leaf, last_leaf, finalized_at
		FROM checkpoints
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(cpID))
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", cpID, sentinel.ErrNotFound)
	}
	return cp, err
}

func (s *PostgresStore) LatestCheckpoint(ctx context.Context) (Checkpoint, bool, error) {
	query := `
		SELECT id, root_hash, first_leaf, last_leaf, finalized_at
		FROM checkpoints
		ORDER BY last_leaf DESC
		LIMIT 1
	`
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *PostgresStore) ListPendingCommitments(ctx context.Context) ([]Commitment, error) {
	query := `
		SELECT id, handle, category, payload_hash, leaf_index, created_at
		FROM commitments
		WHERE leaf_index IS NULL
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pending commitments: %w", err)
	}
	defer rows.Close()
	return scanCommitments(rows)
}

func (s *PostgresStore) ListCommitmentsRange(ctx context.Context, firstLeaf, lastLeaf int64) ([]Commitment, error) {
	query := `
		SELECT id, handle, category, payload_hash, leaf_index, created_at
		FROM commitments
		WHERE leaf_index BETWEEN $1 AND $2
		ORDER BY leaf_index
	`
	rows, err := s.db.QueryContext(ctx, query, firstLeaf, lastLeaf)
	if err != nil {
		return nil, fmt.Errorf("query commitments range: %w", err)
	}
	defer rows.Close()
	return scanCommitments(rows)
}

func (s *PostgresStore) ListCommitmentsByHandle(ctx context.Context, handle id.Handle) ([]Commitment, error) {
	query := `
		SELECT id, handle, category, payload_hash, leaf_index, created_at
		FROM commitments
		WHERE handle = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, handle.String())
	if err != nil {
		return nil, fmt.Errorf("query commitments by handle: %w", err)
	}
	defer rows.Close()
	return scanCommitments(rows)
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, from, to time.Time) ([]Checkpoint, error) {
	query := `
		SELECT id, root_hash, first_leaf, last_leaf, finalized_at
		FROM checkpoints
		WHERE finalized_at >= $1 AND ($2::timestamptz IS NULL OR finalized_at <= $2)
		ORDER BY first_leaf
	`
	var toArg any
	if !to.IsZero() {
		toArg = to
	}
	rows, err := s.db.QueryContext(ctx, query, from, toArg)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEntry(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	query := `
		INSERT INTO audit_entries (
			id, timestamp, action, subject, actor_ref,
			from_state, to_state, reason, severity,
			request_id, client_ip, user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		e.Timestamp,
		e.Action,
		e.Subject,
		e.ActorRef,
		e.FromState,
		e.ToState,
		e.Reason,
		string(e.Severity),
		e.RequestID,
		e.ClientIP,
		e.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEntriesBySubject(ctx context.Context, subject string) ([]Entry, error) {
	query := `
		SELECT timestamp, action, subject, actor_ref, from_state, to_state,
		       reason, severity, request_id, client_ip, user_agent
		FROM audit_entries
		WHERE subject = $1
		ORDER BY timestamp
	`
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListRecentEntries(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT timestamp, action, subject, actor_ref, from_state, to_state,
		       reason, severity, request_id, client_ip, user_agent
		FROM audit_entries
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommitment(row rowScanner) (Commitment, error) {
	var (
		c      Commitment
		cid    uuid.UUID
		handle string
		hash   []byte
		leaf   sql.NullInt64
	)
	if err := row.Scan(&cid, &handle, &c.Category, &hash, &leaf, &c.CreatedAt); err != nil {
		return Commitment{}, err
	}
	c.ID = id.CommitmentID(cid)
	c.Handle = id.Handle(handle)
	copy(c.PayloadHash[:], hash)
	c.LeafIndex = LeafUnassigned
	if leaf.Valid {
		c.LeafIndex = leaf.Int64
	}
	return c, nil
}

func scanCommitments(rows *sql.Rows) ([]Commitment, error) {
	var out []Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var (
		cp   Checkpoint
		cpid uuid.UUID
		root []byte
	)
	if err := row.Scan(&cpid, &root, &cp.FirstLeaf, &cp.LastLeaf, &cp.FinalizedAt); err != nil {
		return Checkpoint{}, err
	}
	cp.ID = id.CheckpointID(cpid)
	if len(root) != commitment.HashSize {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: corrupt root hash length %d", cpid, len(root))
	}
	copy(cp.RootHash[:], root)
	return cp, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			severity string
		)
		err := rows.Scan(
			&e.Timestamp, &e.Action, &e.Subject, &e.ActorRef,
			&e.FromState, &e.ToState, &e.Reason, &severity,
			&e.RequestID, &e.ClientIP, &e.UserAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Severity = Severity(severity)
		out = append(out, e)
	}
	return out, rows.Err()
}
