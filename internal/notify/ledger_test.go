package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerMarkOnce(t *testing.T) {
	l := NewLedger()

	assert.True(t, l.MarkOnce(KindLowVolume))
	assert.False(t, l.MarkOnce(KindLowVolume))
	assert.True(t, l.Marked(KindLowVolume))
	assert.False(t, l.Marked(KindBubble))
}

func TestLedgerReset(t *testing.T) {
	l := NewLedger()
	l.MarkOnce(KindNoFlow)
	l.MarkOnce(MilestoneKind(50))

	l.Reset()

	assert.False(t, l.Marked(KindNoFlow))
	assert.True(t, l.MarkOnce(MilestoneKind(50)))
}

func TestMilestoneKind(t *testing.T) {
	assert.Equal(t, Kind("milestone_25"), MilestoneKind(25))
	assert.NotEqual(t, MilestoneKind(50), MilestoneKind(100))
}
