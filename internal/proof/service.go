package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"veil/internal/audittrail"
	"veil/internal/commitment"
	"veil/internal/proof/metrics"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/sentinel"
	"veil/pkg/platform/tx"
	"veil/pkg/requestcontext"
)

// issueConcurrency bounds parallel proof issuance per finalized batch.
const issueConcurrency = 8

// Trail is the slice of the audit trail the proof engine writes to.
type Trail interface {
	AppendCommitment(ctx context.Context, c audittrail.Commitment) (audittrail.Commitment, error)
	FinalizeCheckpoint(ctx context.Context, cp audittrail.Checkpoint, order []id.CommitmentID) (audittrail.Checkpoint, error)
	GetCommitment(ctx context.Context, cid id.CommitmentID) (audittrail.Commitment, error)
	GetCheckpoint(ctx context.Context, cpID id.CheckpointID) (audittrail.Checkpoint, error)
	ListPendingCommitments(ctx context.Context) ([]audittrail.Commitment, error)
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, e audittrail.Entry) error
}

// Publisher exports finalized checkpoints to the external bulletin.
type Publisher interface {
	Publish(ctx context.Context, cp audittrail.Checkpoint) error
}

// Service is the proof engine. Submissions append a commitment durably, park
// it in an open Merkle batch, and issue the proof when the batch's
// checkpoint finalizes. Submissions are idempotent on the record ID.
type Service struct {
	trail     Trail
	store     Store
	runner    tx.Runner
	batcher   *Batcher
	signer    *Signer
	audit     Recorder
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	// finalizeMu serializes checkpoint finalization so leaf ranges are
	// assigned in one frontier order. Batch assembly stays concurrent.
	finalizeMu sync.Mutex

	// retryMu guards batches drained from the accumulator whose
	// finalization failed; the flush loop retries them.
	retryMu sync.Mutex
	retry   [][]audittrail.Commitment
}

func NewService(
	trail Trail,
	store Store,
	runner tx.Runner,
	batcher *Batcher,
	signer *Signer,
	audit Recorder,
	publisher Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		trail:     trail,
		store:     store,
		runner:    runner,
		batcher:   batcher,
		signer:    signer,
		audit:     audit,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("veil/proof"),
	}
}

// SubmitInteraction commits an interaction record. The commitment is durable
// before the call returns; the proof itself arrives when the record's batch
// seals. Resubmitting the same record ID returns the previously issued proof
// and never creates a second commitment.
func (s *Service) SubmitInteraction(ctx context.Context, record InteractionRecord) (Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "proof.SubmitInteraction")
	defer span.End()

	if err := record.Validate(); err != nil {
		s.metrics.IncrementSubmission("rejected")
		return Receipt{}, err
	}
	if _, err := id.ParseHandle(record.Handle.String()); err != nil {
		s.metrics.IncrementSubmission("rejected")
		return Receipt{}, err
	}

	existing, err := s.store.GetRecord(ctx, record.ID)
	switch {
	case err == nil:
		return s.existingReceipt(ctx, record, existing)
	case errors.Is(err, sentinel.ErrNotFound):
		// first submission, fall through
	default:
		return Receipt{}, dErrors.Wrap(dErrors.CodeInternal, "lookup record", err)
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = requestcontext.Now(ctx)
	}

	c := audittrail.Commitment{
		ID:          id.NewCommitmentID(),
		Handle:      record.Handle,
		Category:    record.Category,
		PayloadHash: record.PayloadHash,
		LeafIndex:   audittrail.LeafUnassigned,
		CreatedAt:   record.Timestamp,
	}
	// Where the stores share a database, the commitment and its record land
	// in one transaction; a failure between the two writes rolls both back
	// instead of leaving an unreferenced leaf.
	runErr := s.runner.RunTx(ctx, func(ctx context.Context) error {
		appended, err := s.trail.AppendCommitment(ctx, c)
		if err != nil {
			return dErrors.Wrap(dErrors.CodeUnavailable, "append commitment", err)
		}
		c = appended
		record.CommitmentID = c.ID
		return s.store.SaveRecord(ctx, record)
	})
	switch {
	case runErr == nil:
	case dErrors.Is(runErr, dErrors.CodeUnavailable):
		span.RecordError(runErr)
		return Receipt{}, runErr
	case errors.Is(runErr, sentinel.ErrConflict):
		return Receipt{}, dErrors.New(dErrors.CodeMalformedInput,
			"record id already used with a different payload hash")
	default:
		// Lost a race against a concurrent identical submission; the other
		// writer's commitment carries the record, so serve its receipt.
		if saved, lookupErr := s.store.GetRecord(ctx, record.ID); lookupErr == nil {
			return s.existingReceipt(ctx, record, saved)
		}
		span.RecordError(runErr)
		return Receipt{}, dErrors.Wrap(dErrors.CodeInternal, "persist record", runErr)
	}

	span.SetAttributes(attribute.String("commitment_id", c.ID.String()))

	if closed := s.batcher.Add(c); closed != nil {
		if err := s.finalizeBatch(ctx, closed); err != nil {
			// Add drained the shard, so the batch exists nowhere else now.
			// Park it for the flush loop or the caller's pending receipt has
			// no path to a proof until restart.
			s.enqueueRetry(closed)
			s.metrics.IncrementSubmission("pending")
			return Receipt{RecordID: record.ID, CommitmentID: record.CommitmentID},
				dErrors.Wrap(dErrors.CodeProofPending, "batch finalization failed, retry with the same record id", err)
		}
		if p, err := s.store.GetProofByCommitment(ctx, record.CommitmentID); err == nil {
			s.metrics.IncrementSubmission("issued")
			return Receipt{RecordID: record.ID, CommitmentID: record.CommitmentID, Proof: &p}, nil
		}
	}

	s.metrics.IncrementSubmission("pending")
	return Receipt{RecordID: record.ID, CommitmentID: record.CommitmentID}, nil
}

// existingReceipt handles the duplicate-submission path.
func (s *Service) existingReceipt(ctx context.Context, submitted, existing InteractionRecord) (Receipt, error) {
	if !existing.PayloadHash.Equal(submitted.PayloadHash) {
		s.metrics.IncrementSubmission("rejected")
		return Receipt{}, dErrors.New(dErrors.CodeMalformedInput,
			"record id already used with a different payload hash")
	}
	s.metrics.IncrementSubmission("duplicate")
	receipt := Receipt{RecordID: existing.ID, CommitmentID: existing.CommitmentID}
	p, err := s.store.GetProofByCommitment(ctx, existing.CommitmentID)
	switch {
	case err == nil:
		receipt.Proof = &p
		return receipt, nil
	case errors.Is(err, sentinel.ErrNotFound):
		// Commitment still waiting in an open batch.
		return receipt, nil
	default:
		return Receipt{}, dErrors.Wrap(dErrors.CodeInternal, "lookup proof", err)
	}
}

// GetProof returns a proof together with its offline verification result.
func (s *Service) GetProof(ctx context.Context, proofID id.ProofID) (Proof, Verification, error) {
	p, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Proof{}, Verification{}, dErrors.New(dErrors.CodeNotFound, "unknown proof")
		}
		return Proof{}, Verification{}, dErrors.Wrap(dErrors.CodeInternal, "lookup proof", err)
	}
	record, err := s.store.GetRecord(ctx, p.RecordID)
	if err != nil {
		return Proof{}, Verification{}, dErrors.Wrap(dErrors.CodeInternal, "lookup record", err)
	}
	return p, s.verify(ctx, p, record.PayloadHash), nil
}

// verify checks the proof against the checkpoint root: signature over the
// statement, and inclusion of the committed hash under the root. Anyone
// holding the proof, payload hash, and verification key can run the same
// check offline.
func (s *Service) verify(ctx context.Context, p Proof, payloadHash commitment.PayloadHash) Verification {
	v := Verification{
		CheckpointID:   p.CheckpointID,
		CheckpointRoot: p.RootHash,
		InclusionPath:  p.InclusionPath,
	}
	if !commitment.VerifyInclusion(p.RootHash, payloadHash, p.InclusionPath) {
		return v
	}
	leafIndex, ok := s.leafIndexOf(ctx, p)
	if !ok {
		return v
	}
	v.Valid = s.signer.Verify(p.VerificationKeyID, p.CommitmentID, payloadHash, p.RootHash, leafIndex, p.Signature)
	return v
}

func (s *Service) leafIndexOf(ctx context.Context, p Proof) (int64, bool) {
	c, err := s.trail.GetCommitment(ctx, p.CommitmentID)
	if err != nil {
		return 0, false
	}
	return c.LeafIndex, c.Sealed()
}

// LogInteraction submits a system-originated interaction (handle resolution,
// reveal justification) through the same commitment path as caller traffic.
func (s *Service) LogInteraction(ctx context.Context, handle id.Handle, category string, payload []byte) error {
	record := InteractionRecord{
		ID:          id.InteractionID(fmt.Sprintf("%s-%s", category, id.NewCommitmentID())),
		Handle:      handle,
		Category:    category,
		PayloadHash: commitment.Hash(payload),
		Timestamp:   requestcontext.Now(ctx),
	}
	_, err := s.SubmitInteraction(ctx, record)
	if err != nil && !dErrors.Is(err, dErrors.CodeProofPending) {
		return err
	}
	return nil
}

// Run drives time-window batch closure and retries failed finalizations.
// Blocks until ctx is canceled, then drains all open batches so shutdown
// leaves nothing pending in memory.
func (s *Service) Run(ctx context.Context) {
	interval := s.batcher.window / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.flush(drainCtx, s.batcher.DrainAll())
			cancel()
			return
		case now := <-ticker.C:
			s.flush(ctx, s.takeRetries())
			s.flush(ctx, s.batcher.DrainExpired(now))
		}
	}
}

// RecoverPending re-enqueues commitments that were appended but never sealed
// before a crash. Called once at startup before Run.
func (s *Service) RecoverPending(ctx context.Context) error {
	pending, err := s.trail.ListPendingCommitments(ctx)
	if err != nil {
		return fmt.Errorf("list pending commitments: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	s.logger.InfoContext(ctx, "recovering unsealed commitments", "count", len(pending))
	for _, c := range pending {
		if closed := s.batcher.Add(c); closed != nil {
			s.enqueueRetry(closed)
		}
	}
	s.flush(ctx, s.takeRetries())
	return nil
}

func (s *Service) flush(ctx context.Context, batches [][]audittrail.Commitment) {
	for _, batch := range batches {
		if err := s.finalizeBatch(ctx, batch); err != nil {
			s.metrics.IncrementFinalizeFailure()
			s.logger.ErrorContext(ctx, "batch finalization failed, will retry",
				"leaves", len(batch),
				"error", err,
			)
			s.enqueueRetry(batch)
		}
	}
}

// finalizeBatch computes the batch's Merkle root, seals its checkpoint, and
// issues proofs for every leaf. No proof is written unless the checkpoint
// committed first; a duplicate proof write (recovery replay) is tolerated.
func (s *Service) finalizeBatch(ctx context.Context, batch []audittrail.Commitment) error {
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "proof.finalizeBatch",
		trace.WithAttributes(attribute.Int("leaves", len(batch))))
	defer span.End()
	start := time.Now()

	leaves := make([]commitment.PayloadHash, len(batch))
	order := make([]id.CommitmentID, len(batch))
	for i, c := range batch {
		leaves[i] = c.PayloadHash
		order[i] = c.ID
	}
	tree, err := commitment.BuildTree(leaves)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("build merkle tree: %w", err)
	}

	cp := audittrail.Checkpoint{
		ID:          id.NewCheckpointID(),
		RootHash:    tree.Root(),
		FinalizedAt: time.Now(),
	}
	cp, err = s.trail.FinalizeCheckpoint(ctx, cp, order)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("finalize checkpoint: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(issueConcurrency)
	for i, c := range batch {
		g.Go(func() error {
			path, err := tree.Path(i)
			if err != nil {
				return err
			}
			leafIndex := cp.FirstLeaf + int64(i)
			sig, keyID := s.signer.Sign(c.ID, c.PayloadHash, cp.RootHash, leafIndex)
			var recordID id.InteractionID
			if record, err := s.store.GetRecordByCommitment(gctx, c.ID); err == nil {
				recordID = record.ID
			}
			p := Proof{
				ID:                id.NewProofID(),
				CommitmentID:      c.ID,
				RecordID:          recordID,
				CheckpointID:      cp.ID,
				RootHash:          cp.RootHash,
				InclusionPath:     path,
				Signature:         sig,
				VerificationKeyID: keyID,
				IssuedAt:          cp.FinalizedAt,
			}
			if err := s.store.SaveProof(gctx, p); err != nil && !errors.Is(err, sentinel.ErrConflict) {
				return fmt.Errorf("save proof for %s: %w", c.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.audit.Record(ctx, audittrail.Entry{
		Action:  audittrail.ActionCheckpointSealed,
		Subject: cp.ID.String(),
		Reason:  fmt.Sprintf("leaves %d-%d", cp.FirstLeaf, cp.LastLeaf),
	}); err != nil {
		s.logger.ErrorContext(ctx, "record checkpoint audit entry", "error", err)
	}
	if s.publisher != nil {
		// Best-effort: the checkpoint is already durable.
		_ = s.publisher.Publish(ctx, cp)
	}

	s.metrics.ObserveBatch(len(batch), time.Since(start))
	return nil
}

func (s *Service) enqueueRetry(batch []audittrail.Commitment) {
	s.retryMu.Lock()
	s.retry = append(s.retry, batch)
	s.retryMu.Unlock()
}

func (s *Service) takeRetries() [][]audittrail.Commitment {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	out := s.retry
	s.retry = nil
	return out
}
