package proof

import (
	"hash/fnv"
	"sync"
	"time"

	"veil/internal/audittrail"
	id "veil/pkg/domain"
)

// Batcher accumulates sealed-pending commitments into per-shard batches.
// Shards are partitioned by handle so unrelated submitters never contend on
// the same lock; each shard admits one open batch at a time. A batch closes
// when it reaches the leaf ceiling or when its open window elapses,
// whichever comes first.
type Batcher struct {
	shards    []*shard
	maxLeaves int
	window    time.Duration
}

type shard struct {
	mu       sync.Mutex
	pending  []audittrail.Commitment
	openedAt time.Time
}

func NewBatcher(shardCount, maxLeaves int, window time.Duration) *Batcher {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{}
	}
	return &Batcher{shards: shards, maxLeaves: maxLeaves, window: window}
}

// Add appends a commitment to its handle's shard. It returns the closed
// batch when this append hits the leaf ceiling, nil otherwise.
func (b *Batcher) Add(c audittrail.Commitment) []audittrail.Commitment {
	sh := b.shardFor(c.Handle)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if len(sh.pending) == 0 {
		sh.openedAt = time.Now()
	}
	sh.pending = append(sh.pending, c)
	if len(sh.pending) >= b.maxLeaves {
		return sh.drainLocked()
	}
	return nil
}

// DrainExpired closes every shard batch whose open window has elapsed as of
// now, returning one batch per expired shard. The swap happens under the
// shard lock, so new appends open a fresh batch without waiting on
// finalization.
func (b *Batcher) DrainExpired(now time.Time) [][]audittrail.Commitment {
	var out [][]audittrail.Commitment
	for _, sh := range b.shards {
		sh.mu.Lock()
		if len(sh.pending) > 0 && now.Sub(sh.openedAt) >= b.window {
			out = append(out, sh.drainLocked())
		}
		sh.mu.Unlock()
	}
	return out
}

// DrainAll closes every non-empty shard batch regardless of age. Used at
// shutdown and by recovery so no commitment stays pending forever.
func (b *Batcher) DrainAll() [][]audittrail.Commitment {
	var out [][]audittrail.Commitment
	for _, sh := range b.shards {
		sh.mu.Lock()
		if len(sh.pending) > 0 {
			out = append(out, sh.drainLocked())
		}
		sh.mu.Unlock()
	}
	return out
}

func (b *Batcher) shardFor(handle id.Handle) *shard {
	h := fnv.New32a()
	h.Write([]byte(handle))
	return b.shards[int(h.Sum32())%len(b.shards)]
}

func (sh *shard) drainLocked() []audittrail.Commitment {
	batch := sh.pending
	sh.pending = nil
	return batch
}
