package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veil/internal/identity"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
)

// PostgresStore persists identities. Uniqueness of (owner_ref, tier) and of
// handle are both database constraints so concurrent assigns race safely.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, ident identity.AnonymousIdentity) error {
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO identities (handle, tier, owner_ref, reveal_state, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		ident.Handle.String(),
		string(ident.Tier),
		uuid.UUID(ident.OwnerRef),
		string(ident.RevealState),
		ident.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			if pqErr.Constraint == "identities_owner_tier_key" {
				return fmt.Errorf("identity for owner/tier %s: %w", ident.Tier, sentinel.ErrConflict)
			}
			return fmt.Errorf("handle %s: %w", ident.Handle, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByHandle(ctx context.Context, handle id.Handle) (identity.AnonymousIdentity, error) {
	query := `
		SELECT handle, tier, owner_ref, reveal_state, created_at
		FROM identities
		WHERE handle = $1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, handle.String()))
}

func (s *PostgresStore) GetByOwnerTier(ctx context.Context, owner id.OwnerRef, tier id.Tier) (identity.AnonymousIdentity, error) {
	query := `
		SELECT handle, tier, owner_ref, reveal_state, created_at
		FROM identities
		WHERE owner_ref = $1 AND tier = $2
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, uuid.UUID(owner), string(tier)))
}

func (s *PostgresStore) UpdateRevealState(ctx context.Context, handle id.Handle, state identity.RevealState) error {
	query := `
		UPDATE identities
		SET reveal_state = $2
		WHERE handle = $1
	`
	res, err := s.db.ExecContext(ctx, query, handle.String(), string(state))
	if err != nil {
		return fmt.Errorf("update reveal state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reveal state: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("handle %s: %w", handle, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (identity.AnonymousIdentity, error) {
	var (
		ident  identity.AnonymousIdentity
		handle string
		tier   string
		owner  uuid.UUID
		state  string
	)
	err := row.Scan(&handle, &tier, &owner, &state, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.AnonymousIdentity{}, fmt.Errorf("identity: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return identity.AnonymousIdentity{}, fmt.Errorf("scan identity: %w", err)
	}
	ident.Handle = id.Handle(handle)
	ident.Tier = id.Tier(tier)
	ident.OwnerRef = id.OwnerRef(owner)
	ident.RevealState = identity.RevealState(state)
	return ident, nil
}
