package proof

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/internal/audittrail"
	"veil/internal/commitment"
	id "veil/pkg/domain"
)

func testCommitment(handle string, n int) audittrail.Commitment {
	return audittrail.Commitment{
		ID:          id.NewCommitmentID(),
		Handle:      id.Handle(handle),
		Category:    "payment",
		PayloadHash: commitment.Hash([]byte(fmt.Sprintf("%s-%d", handle, n))),
		LeafIndex:   audittrail.LeafUnassigned,
		CreatedAt:   time.Now(),
	}
}

func TestBatcherClosesAtCeiling(t *testing.T) {
	b := NewBatcher(1, 3, time.Minute)

	assert.Nil(t, b.Add(testCommitment("onyx-aa01", 0)))
	assert.Nil(t, b.Add(testCommitment("onyx-aa01", 1)))

	closed := b.Add(testCommitment("onyx-aa01", 2))
	require.Len(t, closed, 3)

	// The shard reopened empty.
	assert.Nil(t, b.Add(testCommitment("onyx-aa01", 3)))
}

func TestBatcherDrainExpired(t *testing.T) {
	b := NewBatcher(1, 100, 50*time.Millisecond)
	b.Add(testCommitment("onyx-aa01", 0))
	b.Add(testCommitment("onyx-aa01", 1))

	// Window not yet elapsed.
	assert.Empty(t, b.DrainExpired(time.Now()))

	batches := b.DrainExpired(time.Now().Add(time.Second))
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)

	// Nothing left behind.
	assert.Empty(t, b.DrainAll())
}

func TestBatcherDrainAll(t *testing.T) {
	b := NewBatcher(4, 100, time.Minute)
	total := 0
	for i := 0; i < 10; i++ {
		b.Add(testCommitment(fmt.Sprintf("onyx-aa%02x", i), i))
		total++
	}

	var drained int
	for _, batch := range b.DrainAll() {
		drained += len(batch)
	}
	assert.Equal(t, total, drained)
	assert.Empty(t, b.DrainAll())
}

func TestBatcherShardsByHandle(t *testing.T) {
	b := NewBatcher(8, 1000, time.Minute)

	// All appends for one handle land in the same shard, so a single drain
	// returns them as one ordered batch.
	for i := 0; i < 5; i++ {
		b.Add(testCommitment("void-2a9f01c3", i))
	}
	batches := b.DrainAll()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 5)
}
