// Package bubble implements dual-sensor air bubble detection. A bubble is
// only confirmed when both the IR sensor and the slot module trigger within
// the confirmation window; a single channel alone never confirms, which
// filters out per-sensor noise.
package bubble

import "time"

// Detector fuses the two bubble sensor channels. Both lines are active low:
// a falling edge records a trigger timestamp for that channel.
type Detector struct {
	window time.Duration

	lastIRLevel   bool
	lastSlotLevel bool

	irTrigger   *time.Time
	slotTrigger *time.Time

	confirmed bool
}

// NewDetector creates a detector seeded with the current line levels so a
// low line at startup is not read as a trigger.
func NewDetector(window time.Duration, irLevel, slotLevel bool) *Detector {
	return &Detector{
		window:        window,
		lastIRLevel:   irLevel,
		lastSlotLevel: slotLevel,
	}
}

// Update feeds the current levels of both channels. It returns true exactly
// once per confirmation: on the cycle where both triggers first pair within
// the window. The confirmed state then latches until Clear.
func (d *Detector) Update(now time.Time, irLevel, slotLevel bool) bool {
	if !irLevel && d.lastIRLevel && d.irTrigger == nil {
		t := now
		d.irTrigger = &t
	}
	if !slotLevel && d.lastSlotLevel && d.slotTrigger == nil {
		t := now
		d.slotTrigger = &t
	}
	d.lastIRLevel = irLevel
	d.lastSlotLevel = slotLevel

	if d.irTrigger != nil && d.slotTrigger != nil {
		diff := d.irTrigger.Sub(*d.slotTrigger)
		if diff < 0 {
			diff = -diff
		}
		if diff <= d.window && !d.confirmed {
			d.confirmed = true
			return true
		}
	}

	// An unpaired trigger older than the window is a false trigger and is
	// discarded; it must not pair with a much later event on the other
	// channel.
	if !d.confirmed {
		if d.irTrigger != nil && now.Sub(*d.irTrigger) > d.window {
			d.irTrigger = nil
		}
		if d.slotTrigger != nil && now.Sub(*d.slotTrigger) > d.window {
			d.slotTrigger = nil
		}
	}

	return false
}

// Confirmed reports the latched bubble state.
func (d *Detector) Confirmed() bool {
	return d.confirmed
}

// Clear resets the latch and both pending triggers after operator
// acknowledgment. A fresh bubble needs a fresh pairing.
func (d *Detector) Clear() {
	d.confirmed = false
	d.irTrigger = nil
	d.slotTrigger = nil
}

// Reset fully reinitializes the detector with the current line levels.
func (d *Detector) Reset(irLevel, slotLevel bool) {
	d.Clear()
	d.lastIRLevel = irLevel
	d.lastSlotLevel = slotLevel
}
