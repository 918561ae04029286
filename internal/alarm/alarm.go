// Package alarm selects LED and buzzer output from the monitor's state.
package alarm

import (
	"time"

	"iv-monitor-backend/config"
	"iv-monitor-backend/internal/device"
)

// Mode identifies the active audible alarm pattern. Exactly one mode is
// active at a time.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeLow      Mode = "low_volume"
	ModeComplete Mode = "complete"
	ModeFault    Mode = "fault"
	ModeBubble   Mode = "bubble"
	ModeNoFlow   Mode = "no_flow"
)

// Controller drives the traffic-light indicator and the buzzer. Complete and
// fault sound continuously; the remaining modes toggle at a mode-specific
// interval.
type Controller struct {
	cfg       config.AlarmConfig
	indicator device.Indicator
	beeper    device.Beeper

	mode       Mode
	beeperOn   bool
	lastToggle time.Time
}

// NewController creates a controller with the buzzer off.
func NewController(cfg config.AlarmConfig, indicator device.Indicator, beeper device.Beeper) *Controller {
	return &Controller{
		cfg:       cfg,
		indicator: indicator,
		beeper:    beeper,
		mode:      ModeOff,
	}
}

// SetMode switches the active pattern. Switching restarts the toggle phase.
func (c *Controller) SetMode(mode Mode, now time.Time) {
	if mode == c.mode {
		return
	}
	c.mode = mode
	c.beeperOn = false
	c.lastToggle = now
}

// Mode returns the active alarm mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Update advances the buzzer pattern one cycle.
func (c *Controller) Update(now time.Time) {
	switch c.mode {
	case ModeOff:
		c.setBeeper(false)
	case ModeComplete, ModeFault:
		c.setBeeper(true)
	default:
		if now.Sub(c.lastToggle) >= c.interval() {
			c.setBeeper(!c.beeperOn)
			c.lastToggle = now
		}
	}
}

func (c *Controller) interval() time.Duration {
	switch c.mode {
	case ModeLow:
		return time.Duration(c.cfg.LowIntervalMS) * time.Millisecond
	case ModeBubble:
		return time.Duration(c.cfg.BubbleIntervalMS) * time.Millisecond
	case ModeNoFlow:
		return time.Duration(c.cfg.NoFlowIntervalMS) * time.Millisecond
	}
	return 200 * time.Millisecond
}

func (c *Controller) setBeeper(on bool) {
	c.beeperOn = on
	c.beeper.Set(on)
}

// UpdateLights sets the traffic light from the remaining volume: red below
// the low-volume threshold, yellow below the warning threshold, else green.
func (c *Controller) UpdateLights(remainingML float64) {
	switch {
	case remainingML < c.cfg.LowVolumeThresholdML:
		c.indicator.Set(device.LightRed)
	case remainingML < c.cfg.WarningVolumeThresholdML:
		c.indicator.Set(device.LightYellow)
	default:
		c.indicator.Set(device.LightGreen)
	}
}

// SetLight overrides the traffic light directly, used by held alarm states.
func (c *Controller) SetLight(light device.Light) {
	c.indicator.Set(light)
}

// Shutdown turns every output off.
func (c *Controller) Shutdown() {
	c.mode = ModeOff
	c.setBeeper(false)
	c.indicator.Set(device.LightOff)
}
