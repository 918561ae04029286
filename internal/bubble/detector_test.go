package bubble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const window = 400 * time.Millisecond

func TestSingleChannelNeverConfirms(t *testing.T) {
	now := time.Now()
	d := NewDetector(window, true, true)

	// IR channel triggers repeatedly, slot stays quiet.
	for i := 0; i < 20; i++ {
		assert.False(t, d.Update(now, false, true))
		now = now.Add(50 * time.Millisecond)
		assert.False(t, d.Update(now, true, true))
		now = now.Add(50 * time.Millisecond)
	}
	assert.False(t, d.Confirmed())
}

func TestBothChannelsWithinWindowConfirmOnce(t *testing.T) {
	now := time.Now()
	d := NewDetector(window, true, true)

	assert.False(t, d.Update(now, false, true))
	now = now.Add(200 * time.Millisecond)
	assert.True(t, d.Update(now, false, false))
	assert.True(t, d.Confirmed())

	// Latched: further cycles do not re-fire.
	now = now.Add(100 * time.Millisecond)
	assert.False(t, d.Update(now, false, false))
	assert.True(t, d.Confirmed())
}

func TestStaleTriggerDiscarded(t *testing.T) {
	now := time.Now()
	d := NewDetector(window, true, true)

	assert.False(t, d.Update(now, false, true))

	// The slot triggers well outside the window; the stale IR trigger must
	// not pair with it.
	now = now.Add(window + 200*time.Millisecond)
	assert.False(t, d.Update(now, true, true))
	assert.False(t, d.Update(now, true, false))
	assert.False(t, d.Confirmed())

	// A fresh IR trigger close to the pending slot trigger does confirm.
	now = now.Add(100 * time.Millisecond)
	assert.True(t, d.Update(now, false, false))
}

func TestClearRequiresFreshPairing(t *testing.T) {
	now := time.Now()
	d := NewDetector(window, true, true)

	d.Update(now, false, false)
	assert.True(t, d.Confirmed())

	d.Clear()
	assert.False(t, d.Confirmed())

	// Lines still low after Clear: no edges, so no new trigger.
	now = now.Add(50 * time.Millisecond)
	assert.False(t, d.Update(now, false, false))

	// Both lines release and trigger again.
	now = now.Add(50 * time.Millisecond)
	d.Update(now, true, true)
	now = now.Add(50 * time.Millisecond)
	assert.True(t, d.Update(now, false, false))
}

func TestLowLinesAtStartupNotATrigger(t *testing.T) {
	now := time.Now()
	d := NewDetector(window, false, false)

	assert.False(t, d.Update(now, false, false))
	assert.False(t, d.Confirmed())
}
