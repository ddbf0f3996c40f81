package reveal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStages = []Stage{
	StageInitiated,
	StagePartialDisclosure,
	StageEvidenceReview,
	StageFullDisclosure,
	StagePurged,
	StageAborted,
}

func TestStageForwardOrder(t *testing.T) {
	want := []Stage{
		StageInitiated,
		StagePartialDisclosure,
		StageEvidenceReview,
		StageFullDisclosure,
		StagePurged,
	}
	stage := StageInitiated
	for _, expected := range want[1:] {
		next, ok := stage.Next()
		require.True(t, ok, "stage %s must have a successor", stage)
		assert.Equal(t, expected, next)
		stage = next
	}
	_, ok := stage.Next()
	assert.False(t, ok, "purged is terminal")
	_, ok = StageAborted.Next()
	assert.False(t, ok, "aborted is terminal")
}

// TestStageTransitionTable drives random transition attempts and checks each
// against the rules: only the immediate successor is reachable, aborts are
// allowed only before full disclosure, terminal stages admit nothing.
func TestStageTransitionTable(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10_000; i++ {
		from := allStages[rng.Intn(len(allStages))]
		to := allStages[rng.Intn(len(allStages))]

		allowed := from.AllowsTransitionTo(to)
		switch {
		case to == StageAborted:
			assert.Equal(t, from.Abortable(), allowed, "%s -> aborted", from)
		default:
			next, ok := from.Next()
			assert.Equal(t, ok && next == to, allowed, "%s -> %s", from, to)
		}

		if from.Terminal() {
			assert.False(t, allowed, "terminal %s must admit no transition", from)
		}
	}
}

func TestStageAbortable(t *testing.T) {
	assert.True(t, StageInitiated.Abortable())
	assert.True(t, StagePartialDisclosure.Abortable())
	assert.True(t, StageEvidenceReview.Abortable())
	assert.False(t, StageFullDisclosure.Abortable())
	assert.False(t, StagePurged.Abortable())
	assert.False(t, StageAborted.Abortable())
}

func TestParseTriggerType(t *testing.T) {
	for _, valid := range []string{"medical", "legal", "security", "regulatory"} {
		trigger, err := ParseTriggerType(valid)
		require.NoError(t, err)
		assert.NotEmpty(t, trigger.RequiredRole())
	}
	for _, invalid := range []string{"", "gossip", "MEDICAL", "legal "} {
		_, err := ParseTriggerType(invalid)
		assert.Error(t, err, invalid)
	}
}
