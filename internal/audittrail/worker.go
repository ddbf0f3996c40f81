package audittrail

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Producer is the slice of the Kafka publisher the worker needs.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Worker drains the audit entry channel and fans entries out to the bulletin
// broker. Persistence already happened in Service.Record; a broker outage
// here loses nothing durable.
type Worker struct {
	producer Producer
	topic    string
	inbox    <-chan Entry
	logger   *slog.Logger
}

func NewWorker(producer Producer, topic string, inbox <-chan Entry, logger *slog.Logger) *Worker {
	return &Worker{producer: producer, topic: topic, inbox: inbox, logger: logger}
}

type entryPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	ActorRef  string    `json:"actor_ref,omitempty"`
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Severity  string    `json:"severity"`
	RequestID string    `json:"request_id,omitempty"`
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			payload, err := json.Marshal(entryPayload{
				Timestamp: entry.Timestamp,
				Action:    entry.Action,
				Subject:   entry.Subject,
				ActorRef:  entry.ActorRef,
				FromState: entry.FromState,
				ToState:   entry.ToState,
				Reason:    entry.Reason,
				Severity:  string(entry.Severity),
				RequestID: entry.RequestID,
			})
			if err != nil {
				w.logger.ErrorContext(ctx, "marshal audit entry", "error", err)
				continue
			}
			if err := w.producer.Publish(ctx, w.topic, entry.Subject, payload); err != nil {
				w.logger.WarnContext(ctx, "audit fan-out publish failed",
					"action", entry.Action,
					"error", err,
				)
			}
		}
	}
}
