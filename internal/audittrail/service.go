package audittrail

import (
	"context"
	"log/slog"
	"time"

	"veil/pkg/requestcontext"
)

// Service fronts the trail stores. Writes go to the store first (durable
// before acknowledgment); the optional sink channel feeds the fan-out worker
// and never blocks or fails a write.
type Service struct {
	store   Store
	entries EntryStore
	sink    chan<- Entry
	logger  *slog.Logger
}

func NewService(store Store, entries EntryStore, sink chan<- Entry, logger *slog.Logger) *Service {
	return &Service{store: store, entries: entries, sink: sink, logger: logger}
}

// Record appends an audit entry. Request-scoped metadata (actor, request ID,
// client IP, user agent) is filled from context when the caller left it
// empty, so services don't thread transport details by hand.
func (s *Service) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	if e.ActorRef == "" {
		e.ActorRef = requestcontext.ActorRef(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	if e.UserAgent == "" {
		e.UserAgent = requestcontext.UserAgent(ctx)
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	if err := s.entries.AppendEntry(ctx, e); err != nil {
		return err
	}

	if s.sink != nil {
		select {
		case s.sink <- e:
		default:
			// Fan-out is best-effort; the durable copy is already written.
			s.logger.WarnContext(ctx, "audit fan-out buffer full, dropping event copy",
				"action", e.Action,
				"subject", e.Subject,
			)
		}
	}
	return nil
}

// Commitments exposes the append-only commitment chain.
func (s *Service) Commitments() Store { return s.store }

// EntriesBySubject returns the permanent audit history for a handle or
// reveal request.
func (s *Service) EntriesBySubject(ctx context.Context, subject string) ([]Entry, error) {
	return s.entries.ListEntriesBySubject(ctx, subject)
}

// CheckpointsBetween lists finalized checkpoints in a time window.
func (s *Service) CheckpointsBetween(ctx context.Context, from, to time.Time) ([]Checkpoint, error) {
	return s.store.ListCheckpoints(ctx, from, to)
}
