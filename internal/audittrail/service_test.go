package audittrail

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veil/pkg/requestcontext"
)

type AuditServiceSuite struct {
	suite.Suite

	ctx   context.Context
	store *MemoryStore
}

func TestAuditServiceSuite(t *testing.T) {
	suite.Run(t, new(AuditServiceSuite))
}

func (s *AuditServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
}

func (s *AuditServiceSuite) newService(sink chan<- Entry) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(s.store, s.store, sink, logger)
}

func (s *AuditServiceSuite) TestRecordEnrichesFromContext() {
	svc := s.newService(nil)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, now)
	ctx = requestcontext.WithActorRef(ctx, "actor-1")
	ctx = requestcontext.WithRequestID(ctx, "req-42")
	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.9", "veil-cli/1.0")

	err := svc.Record(ctx, Entry{
		Action:  ActionHandleResolved,
		Subject: "onyx-7f3c9a",
	})
	s.Require().NoError(err)

	entries, err := svc.EntriesBySubject(s.ctx, "onyx-7f3c9a")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)

	e := entries[0]
	s.Equal(now, e.Timestamp)
	s.Equal("actor-1", e.ActorRef)
	s.Equal("req-42", e.RequestID)
	s.Equal("203.0.113.9", e.ClientIP)
	s.Equal("veil-cli/1.0", e.UserAgent)
	s.Equal(SeverityInfo, e.Severity)
}

func (s *AuditServiceSuite) TestRecordKeepsExplicitFields() {
	svc := s.newService(nil)

	ctx := requestcontext.WithActorRef(s.ctx, "context-actor")
	err := svc.Record(ctx, Entry{
		Action:   ActionRevealDenied,
		Subject:  "void-2a9f01c3",
		ActorRef: "explicit-actor",
		Severity: SeverityCritical,
	})
	s.Require().NoError(err)

	entries, err := svc.EntriesBySubject(s.ctx, "void-2a9f01c3")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("explicit-actor", entries[0].ActorRef)
	s.Equal(SeverityCritical, entries[0].Severity)
}

func (s *AuditServiceSuite) TestRecordFansOutToSink() {
	sink := make(chan Entry, 1)
	svc := s.newService(sink)

	err := svc.Record(s.ctx, Entry{Action: ActionIdentityAssigned, Subject: "onyx-7f3c9a"})
	s.Require().NoError(err)

	select {
	case e := <-sink:
		s.Equal(ActionIdentityAssigned, e.Action)
	default:
		s.Fail("expected entry on sink")
	}
}

func (s *AuditServiceSuite) TestRecordDropsWhenSinkFull() {
	sink := make(chan Entry) // unbuffered, nothing reading
	svc := s.newService(sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := svc.Record(s.ctx, Entry{Action: ActionRevealTransition, Subject: "void-2a9f01c3"})
		s.NoError(err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("Record must not block on a full sink")
	}

	// The durable copy was still written.
	entries, err := svc.EntriesBySubject(s.ctx, "void-2a9f01c3")
	s.Require().NoError(err)
	s.Len(entries, 1)
}
