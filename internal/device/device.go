// Package device declares the narrow contracts the monitoring core consumes
// from its hardware collaborators, plus terminal-backed implementations used
// when the daemon runs without the bedside hardware attached.
package device

import "time"

// Display rows/columns of the character display the core formats for.
const (
	DisplayRows = 4
	DisplayCols = 20
)

// Display renders pre-formatted, width-bounded status lines.
type Display interface {
	Clear()
	WriteLine(index int, text string)
}

// NumericInput collects a validated integer from the operator. It blocks
// from the caller's perspective and returns fallback when the operator
// cancels the entry.
type NumericInput interface {
	ReadInt(prompt string, min, max, fallback int) int
}

// Button reports a debounced rising edge. Pressed is idempotent within one
// poll cycle: a single physical press yields exactly one true.
type Button interface {
	Pressed() bool
}

// SignalReader exposes the logic level of a sensor line.
type SignalReader interface {
	Level() bool
}

// RawReader reads the raw load-cell value. ReadRaw fails when no reading
// arrives within the timeout.
type RawReader interface {
	ReadRaw(timeout time.Duration) (int64, error)
	ReadAverage(times int, timeout time.Duration) (int64, error)
}

// Light is a traffic-light indicator state.
type Light string

const (
	LightOff    Light = "off"
	LightRed    Light = "red"
	LightYellow Light = "yellow"
	LightGreen  Light = "green"
)

// Indicator drives the three-state traffic light.
type Indicator interface {
	Set(light Light)
}

// Beeper switches the raw buzzer output; the alarm controller owns the
// pattern timing.
type Beeper interface {
	Set(on bool)
}
