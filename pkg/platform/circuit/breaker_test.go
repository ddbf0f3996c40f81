package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The breaker guards the bulletin publisher: the trail is durable without
// the brokers, so an open circuit means "skip the export", never "fail the
// checkpoint". These tests drive it through broker-outage shapes.

func TestBreakerStartsClosed(t *testing.T) {
	b := New("kafka-bulletin")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "kafka-bulletin", b.Name())
}

func TestBreakerOpensWhenBrokerKeepsFailing(t *testing.T) {
	b := New("kafka-bulletin", WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		skip, change := b.RecordFailure()
		assert.False(t, skip, "publish attempts continue below the threshold")
		assert.False(t, change.Opened)
	}

	skip, change := b.RecordFailure()
	assert.True(t, skip)
	assert.True(t, change.Opened, "the opening transition is reported once for logging")
	assert.True(t, b.IsOpen())
}

func TestBreakerClosesAfterSustainedRecovery(t *testing.T) {
	b := New("kafka-bulletin", WithFailureThreshold(1), WithSuccessThreshold(2))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	resume, change := b.RecordSuccess()
	assert.False(t, resume, "one good publish is not yet a recovered broker")
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen())

	resume, change = b.RecordSuccess()
	assert.True(t, resume)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreakerTransientFailuresDoNotAccumulate(t *testing.T) {
	b := New("kafka-bulletin", WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// The streak restarted, so two more failures stay under the threshold.
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreakerRelapseRestartsRecovery(t *testing.T) {
	b := New("kafka-bulletin", WithFailureThreshold(1), WithSuccessThreshold(3))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	assert.True(t, b.IsOpen(), "a relapse voids the partial recovery")

	b.RecordSuccess()
	b.RecordSuccess()
	assert.True(t, b.IsOpen())
	b.RecordSuccess()
	assert.False(t, b.IsOpen())
}

func TestBreakerResetForcesClosed(t *testing.T) {
	b := New("kafka-bulletin", WithFailureThreshold(1))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOpenStateReportsNoFurtherTransition(t *testing.T) {
	b := New("kafka-bulletin", WithFailureThreshold(1))

	b.RecordFailure()
	skip, change := b.RecordFailure()
	assert.True(t, skip)
	assert.False(t, change.Opened, "only the first failure past the threshold transitions")
}
