package audittrail

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"veil/internal/platform/kafka"
)

// CheckpointPublisher exports finalized checkpoints to the external
// tamper-resistant bulletin. The bulletin itself (public ledger, transparency
// log) is a collaborator; losing a publish is recoverable because checkpoints
// are durable in the trail and republished by the catch-up loop.
type CheckpointPublisher struct {
	producer Producer
	logger   *slog.Logger
}

func NewCheckpointPublisher(producer Producer, logger *slog.Logger) *CheckpointPublisher {
	return &CheckpointPublisher{producer: producer, logger: logger}
}

type checkpointPayload struct {
	CheckpointID string    `json:"checkpoint_id"`
	RootHash     string    `json:"root_hash"`
	FirstLeaf    int64     `json:"first_leaf"`
	LastLeaf     int64     `json:"last_leaf"`
	FinalizedAt  time.Time `json:"finalized_at"`
}

// Publish exports one checkpoint. Best-effort: the caller has already made
// the checkpoint durable.
func (p *CheckpointPublisher) Publish(ctx context.Context, cp Checkpoint) error {
	if p == nil || p.producer == nil {
		return nil
	}
	payload, err := json.Marshal(checkpointPayload{
		CheckpointID: cp.ID.String(),
		RootHash:     cp.RootHash.String(),
		FirstLeaf:    cp.FirstLeaf,
		LastLeaf:     cp.LastLeaf,
		FinalizedAt:  cp.FinalizedAt,
	})
	if err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, kafka.TopicCheckpoints, cp.ID.String(), payload); err != nil {
		p.logger.WarnContext(ctx, "checkpoint publication failed",
			"checkpoint_id", cp.ID.String(),
			"error", err,
		)
		return err
	}
	return nil
}
