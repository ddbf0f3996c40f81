package proof

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veil/internal/commitment"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
	txcontext "veil/pkg/platform/tx"
)

// PostgresStore persists records and proofs. Inclusion paths are stored as
// JSONB since they are read back whole and never queried by element.
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

func (s *PostgresStore) SaveRecord(ctx context.Context, r InteractionRecord) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
		INSERT INTO interactions (id, handle, category, payload_hash, metadata, commitment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		r.ID.String(),
		r.Handle.String(),
		r.Category,
		r.PayloadHash[:],
		metadata,
		uuid.UUID(r.CommitmentID),
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	if affected == 0 {
		existing, err := s.GetRecord(ctx, r.ID)
		if err != nil {
			return err
		}
		if !existing.PayloadHash.Equal(r.PayloadHash) {
			return fmt.Errorf("record %s: %w", r.ID, sentinel.ErrConflict)
		}
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, recordID id.InteractionID) (InteractionRecord, error) {
	return s.queryRecord(ctx, `WHERE id = $1`, recordID.String())
}

func (s *PostgresStore) GetRecordByCommitment(ctx context.Context, cid id.CommitmentID) (InteractionRecord, error) {
	return s.queryRecord(ctx, `WHERE commitment_id = $1`, uuid.UUID(cid))
}

func (s *PostgresStore) queryRecord(ctx context.Context, where string, arg any) (InteractionRecord, error) {
	query := `
		SELECT id, handle, category, payload_hash, metadata, commitment_id, created_at
		FROM interactions
	` + where
	var (
		r        InteractionRecord
		rid      string
		handle   string
		hash     []byte
		metadata []byte
		cid      uuid.UUID
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rid, &handle, &r.Category, &hash, &metadata, &cid, &r.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return InteractionRecord{}, fmt.Errorf("record: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return InteractionRecord{}, fmt.Errorf("query interaction: %w", err)
	}
	r.ID = id.InteractionID(rid)
	r.Handle = id.Handle(handle)
	copy(r.PayloadHash[:], hash)
	r.CommitmentID = id.CommitmentID(cid)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return InteractionRecord{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return r, nil
}

func (s *PostgresStore) SaveProof(ctx context.Context, p Proof) error {
	path, err := json.Marshal(p.InclusionPath)
	if err != nil {
		return fmt.Errorf("marshal inclusion path: %w", err)
	}
	query := `
		INSERT INTO proofs (
			id, commitment_id, record_id, checkpoint_id, root_hash,
			inclusion_path, signature, verification_key_id, issued_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID),
		uuid.UUID(p.CommitmentID),
		p.RecordID.String(),
		uuid.UUID(p.CheckpointID),
		p.RootHash[:],
		path,
		p.Signature,
		p.VerificationKeyID,
		p.IssuedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("proof for commitment %s: %w", p.CommitmentID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert proof: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProof(ctx context.Context, proofID id.ProofID) (Proof, error) {
	return s.queryProof(ctx, `WHERE id = $1`, uuid.UUID(proofID))
}

func (s *PostgresStore) GetProofByCommitment(ctx context.Context, cid id.CommitmentID) (Proof, error) {
	return s.queryProof(ctx, `WHERE commitment_id = $1`, uuid.UUID(cid))
}

func (s *PostgresStore) queryProof(ctx context.Context, where string, arg any) (Proof, error) {
	query := `
		SELECT id, commitment_id, record_id, checkpoint_id, root_hash,
		       inclusion_path, signature, verification_key_id, issued_at
		FROM proofs
	` + where
	var (
		p    Proof
		pid  uuid.UUID
		cid  uuid.UUID
		rid  string
		cpid uuid.UUID
		root []byte
		path []byte
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&pid, &cid, &rid, &cpid, &root, &path, &p.Signature, &p.VerificationKeyID, &p.IssuedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Proof{}, fmt.Errorf("proof: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return Proof{}, fmt.Errorf("query proof: %w", err)
	}
	p.ID = id.ProofID(pid)
	p.CommitmentID = id.CommitmentID(cid)
	p.RecordID = id.InteractionID(rid)
	p.CheckpointID = id.CheckpointID(cpid)
	if len(root) != commitment.HashSize {
		return Proof{}, fmt.Errorf("proof %s: corrupt root hash length %d", pid, len(root))
	}
	copy(p.RootHash[:], root)
	if err := json.Unmarshal(path, &p.InclusionPath); err != nil {
		return Proof{}, fmt.Errorf("unmarshal inclusion path: %w", err)
	}
	return p, nil
}
