package estimator

import (
	"time"

	"iv-monitor-backend/internal/device"
	"iv-monitor-backend/internal/prescription"
)

// rateWindow is the trailing interval over which the drop rate is measured.
// Window length at any instant equals the measured rate in drops per minute.
const rateWindow = 60 * time.Second

// DropCounter detects drops on a logic-level sensor line using rising-edge
// detection with debouncing and keeps a sliding window of accepted drop
// timestamps for rate calculation.
type DropCounter struct {
	debounce time.Duration

	total     int
	lastDrop  time.Time
	lastLevel bool
	window    []time.Time
}

// NewDropCounter creates a counter. The initial line level and "now" seed the
// edge detector so a high line at startup does not count as a drop.
func NewDropCounter(debounce time.Duration, now time.Time, level bool) *DropCounter {
	return &DropCounter{
		debounce:  debounce,
		lastDrop:  now,
		lastLevel: level,
	}
}

// Record feeds the current line level into the edge detector. It returns true
// when a new drop is accepted. A rising edge inside the debounce interval is
// discarded outright, not queued.
func (c *DropCounter) Record(now time.Time, level bool) bool {
	accepted := false
	if level && !c.lastLevel {
		if now.Sub(c.lastDrop) >= c.debounce {
			c.total++
			c.lastDrop = now
			c.window = append(c.window, now)
			accepted = true
		}
	}
	c.lastLevel = level
	c.evict(now)
	return accepted
}

// evict drops window entries older than the trailing rate window.
func (c *DropCounter) evict(now time.Time) {
	cutoff := 0
	for cutoff < len(c.window) && now.Sub(c.window[cutoff]) > rateWindow {
		cutoff++
	}
	if cutoff > 0 {
		c.window = append(c.window[:0], c.window[cutoff:]...)
	}
}

// Total returns the number of accepted drops since the last reset.
func (c *DropCounter) Total() int {
	return c.total
}

// RatePerMinute returns the number of accepted drops in the trailing 60 s.
func (c *DropCounter) RatePerMinute(now time.Time) int {
	c.evict(now)
	return len(c.window)
}

// TimeSinceLast returns the time elapsed since the last accepted drop.
func (c *DropCounter) TimeSinceLast(now time.Time) time.Duration {
	return now.Sub(c.lastDrop)
}

// Reset zeroes the counter and the sliding window.
func (c *DropCounter) Reset(now time.Time) {
	c.total = 0
	c.lastDrop = now
	c.window = c.window[:0]
}

// DropSource estimates delivered volume by counting drops against the
// prescription's drip factor.
type DropSource struct {
	counter *DropCounter
	line    device.SignalReader
	rx      *prescription.Prescription
}

// NewDropSource wires a counter to the drop sensor line and the active
// prescription.
func NewDropSource(debounce time.Duration, line device.SignalReader, rx *prescription.Prescription, now time.Time) *DropSource {
	return &DropSource{
		counter: NewDropCounter(debounce, now, line.Level()),
		line:    line,
		rx:      rx,
	}
}

// Sample reads the sensor line and feeds the edge detector.
func (s *DropSource) Sample(now time.Time) error {
	s.counter.Record(now, s.line.Level())
	return nil
}

// Metrics derives volume and rate figures from the drop count.
func (s *DropSource) Metrics(now time.Time) Metrics {
	var m Metrics
	dripFactor := float64(s.rx.DripFactor())
	target := float64(s.rx.TargetVolumeML())
	if dripFactor <= 0 {
		return m
	}

	m.DeliveredML = float64(s.counter.Total()) / dripFactor
	m.RemainingML = target - m.DeliveredML
	if m.RemainingML < 0 {
		m.RemainingML = 0
	}
	if target > 0 {
		m.PercentDelivered = clamp(m.DeliveredML/target*100, 0, 100)
	}

	m.RatePerMinute = float64(s.counter.RatePerMinute(now))
	m.MLPerHour = m.RatePerMinute * 60 / dripFactor
	if m.MLPerHour > 0 {
		m.ETA = time.Duration(m.RemainingML / m.MLPerHour * float64(time.Hour))
		m.ETAKnown = true
	}
	return m
}

// TimeSinceFlow is the time since the last accepted drop.
func (s *DropSource) TimeSinceFlow(now time.Time) time.Duration {
	return s.counter.TimeSinceLast(now)
}

// Reset zeroes the drop counter.
func (s *DropSource) Reset(now time.Time) {
	s.counter.Reset(now)
}

// Counter exposes the underlying counter for display purposes.
func (s *DropSource) Counter() *DropCounter {
	return s.counter
}
