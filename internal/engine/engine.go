// Package engine contains the central monitoring state machine. A single
// fixed-cadence loop samples the sensors, advances the state machine, drives
// the alarm controller and notification gateway, and publishes snapshots for
// the read-only API. All clinical state is mutated on this one thread.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"iv-monitor-backend/config"
	"iv-monitor-backend/internal/alarm"
	"iv-monitor-backend/internal/bubble"
	"iv-monitor-backend/internal/device"
	"iv-monitor-backend/internal/estimator"
	"iv-monitor-backend/internal/model"
	"iv-monitor-backend/internal/notify"
	"iv-monitor-backend/internal/prescription"
	"iv-monitor-backend/internal/store"
)

// State identifies a monitoring state. Terminated is absorbing.
type State string

const (
	StateInit              State = "init"
	StateModeCheck         State = "mode_check"
	StatePrescriptionInput State = "prescription_input"
	StateMonitoring        State = "monitoring"
	StateBubbleAlarm       State = "bubble_alarm"
	StateNoFlow            State = "no_flow"
	StateTimeElapsed       State = "time_elapsed"
	StateComplete          State = "complete"
	StateFault             State = "fault"
	StateTerminated        State = "terminated"
)

// Buttons groups the four operator buttons.
type Buttons struct {
	Acknowledge device.Button
	New         device.Button
	Reset       device.Button
	Terminate   device.Button
}

// Options wires an Engine to its collaborators. Weight and Calibrator are
// nil for the drop-count variant.
type Options struct {
	Config       *config.Config
	Store        store.Store
	Gateway      *notify.Gateway
	Source       estimator.Source
	Weight       *estimator.WeightSource
	Calibrator   *estimator.Calibrator
	Bubbles      *bubble.Detector
	IRLine       device.SignalReader
	SlotLine     device.SignalReader
	Alarms       *alarm.Controller
	Display      device.Display
	Input        device.NumericInput
	Buttons      Buttons
	Prescription *prescription.Prescription
	Clock        func() time.Time
}

// Engine is the monitoring state machine. It owns the prescription, the
// active session, and the network mode; nothing else mutates them.
type Engine struct {
	cfg        *config.Config
	store      store.Store
	gateway    *notify.Gateway
	source     estimator.Source
	weight     *estimator.WeightSource
	calibrator *estimator.Calibrator
	bubbles    *bubble.Detector
	irLine     device.SignalReader
	slotLine   device.SignalReader
	alarms     *alarm.Controller
	display    device.Display
	input      device.NumericInput
	buttons    Buttons
	clock      func() time.Time
	ctx        context.Context

	rx      *prescription.Prescription
	session *Session

	state       State
	silenced    bool
	faultReason string
	drawn       bool
	lastDisplay time.Time
	lastProbe   time.Time

	snapshot atomic.Pointer[Snapshot]
}

// New creates an engine in the INIT state.
func New(opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		cfg:        opts.Config,
		store:      opts.Store,
		gateway:    opts.Gateway,
		source:     opts.Source,
		weight:     opts.Weight,
		calibrator: opts.Calibrator,
		bubbles:    opts.Bubbles,
		irLine:     opts.IRLine,
		slotLine:   opts.SlotLine,
		alarms:     opts.Alarms,
		display:    opts.Display,
		input:      opts.Input,
		buttons:    opts.Buttons,
		rx:         opts.Prescription,
		clock:      clock,
		ctx:        context.Background(),
		state:      StateInit,
	}
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Session returns the active session, nil before the first prescription.
func (e *Engine) Session() *Session {
	return e.session
}

// Run drives the engine at the configured cadence until the context is
// cancelled or the operator terminates the session.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	e.gateway.Start(ctx)
	log.Println("monitoring engine starting")

	ticker := time.NewTicker(e.cfg.Monitor.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown(e.clock())
			return
		case <-ticker.C:
			if e.Step(e.clock()) == StateTerminated {
				e.shutdown(e.clock())
				return
			}
		}
	}
}

// Step advances the state machine one poll cycle. A failure in a cycle's
// collaborators is logged and the next cycle proceeds normally.
func (e *Engine) Step(now time.Time) State {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("cycle failure recovered: %v", r)
		}
	}()

	if e.state != StateTerminated {
		if !e.handleButtons(now) {
			e.step(now)
		}
		e.alarms.Update(now)
	}
	e.publish(now)
	return e.state
}

func (e *Engine) step(now time.Time) {
	switch e.state {
	case StateInit:
		e.display.Clear()
		e.display.WriteLine(0, "IV MONITORING")
		e.display.WriteLine(1, "Booting...")
		e.appendEvent(now, "boot", "monitor starting")
		e.transition(StateModeCheck, now)

	case StateModeCheck:
		mode := e.gateway.Refresh(e.ctx)
		e.lastProbe = now
		e.display.WriteLine(2, fmt.Sprintf("Mode: %s", mode))
		e.appendEvent(now, "mode_check", string(mode))
		e.transition(StatePrescriptionInput, now)

	case StatePrescriptionInput:
		e.collectPrescription()

	case StateMonitoring:
		e.stepMonitoring(now)

	case StateBubbleAlarm:
		e.stepBubbleAlarm(now)

	case StateNoFlow:
		e.stepNoFlow(now)

	case StateTimeElapsed:
		e.stepTimeElapsed(now)

	case StateComplete:
		e.stepComplete(now)

	case StateFault:
		e.stepFault(now)
	}
}

// handleButtons processes operator input. Buttons are checked every cycle
// regardless of sub-state. It reports whether a state transition happened.
func (e *Engine) handleButtons(now time.Time) bool {
	if e.state == StateInit || e.state == StateModeCheck || e.state == StatePrescriptionInput {
		return false
	}

	if e.buttons.Terminate.Pressed() {
		e.appendEvent(now, "terminate", "terminate button pressed")
		e.transition(StateTerminated, now)
		return true
	}

	if e.buttons.New.Pressed() {
		e.appendEvent(now, "new_prescription", "new prescription requested")
		e.archiveSession(now, model.OutcomeReplaced)
		e.alarms.SetMode(alarm.ModeOff, now)
		e.transition(StatePrescriptionInput, now)
		return true
	}

	if e.buttons.Acknowledge.Pressed() {
		e.silenced = true
		e.alarms.SetMode(alarm.ModeOff, now)
		e.appendEvent(now, "acknowledge", "alarm acknowledged")
		switch e.state {
		case StateBubbleAlarm:
			e.bubbles.Clear()
			e.transition(StateMonitoring, now)
			return true
		case StateTimeElapsed:
			e.transition(StateMonitoring, now)
			return true
		}
		return false
	}

	if e.buttons.Reset.Pressed() {
		switch e.state {
		case StateMonitoring:
			e.resetCounters(now)
			return true
		case StateFault:
			e.recalibrate(now)
			return e.state != StateFault
		}
	}

	return false
}

// collectPrescription runs the blocking prescription entry, builds a fresh
// session, resets the sensors, and enters MONITORING.
func (e *Engine) collectPrescription() {
	e.display.Clear()
	e.display.WriteLine(0, "PRESCRIPTION ENTRY")
	e.rx.Reset()

	pb := e.cfg.Prescription
	for {
		v := e.input.ReadInt("Enter Volume (mL)", pb.MinVolumeML, pb.MaxVolumeML, 0)
		if e.rx.SetVolume(v) {
			break
		}
	}
	for {
		d := e.input.ReadInt("Enter Time (min)", pb.MinDurationMin, pb.MaxDurationMin, 0)
		if e.rx.SetDuration(d) {
			break
		}
	}
	for {
		df := e.input.ReadInt("Drip Factor (gtt/mL)", 1, 100, pb.DefaultDripFactor)
		if e.rx.SetDripFactor(df) {
			break
		}
	}

	now := e.clock()
	e.session = NewSession(e.rx, now)
	e.session.Update(estimator.Metrics{RemainingML: float64(e.rx.TargetVolumeML())})
	e.source.Reset(now)
	e.bubbles.Reset(e.irLine.Level(), e.slotLine.Level())
	e.silenced = false
	e.faultReason = ""
	e.alarms.SetMode(alarm.ModeOff, now)
	e.lastDisplay = now.Add(-e.cfg.Monitor.DisplayInterval)

	e.display.Clear()
	e.display.WriteLine(0, "PRESCRIPTION SET")
	e.display.WriteLine(1, fmt.Sprintf("Vol: %d mL", e.rx.TargetVolumeML()))
	e.display.WriteLine(2, fmt.Sprintf("Time: %d min", e.rx.DurationMinutes()))
	e.display.WriteLine(3, fmt.Sprintf("Set: %d gtt/min", int(e.rx.TargetGttPerMin())))

	e.session.Ledger().MarkOnce(notify.MilestoneKind(0))
	if e.session.Ledger().MarkOnce(notify.KindStarted) {
		e.notify(now, notify.KindStarted, fmt.Sprintf("IV monitoring started: %dmL over %dmin (0%% delivered).",
			e.rx.TargetVolumeML(), e.rx.DurationMinutes()))
	}

	e.transition(StateMonitoring, now)
}

// stepMonitoring is one MONITORING cycle in strict priority order: sample,
// bubble, no-flow, time-elapsed, then routine display/alarm/milestone work.
func (e *Engine) stepMonitoring(now time.Time) {
	if err := e.source.Sample(now); err != nil {
		e.enterFault(now, err)
		return
	}
	newlyConfirmed := e.bubbles.Update(now, e.irLine.Level(), e.slotLine.Level())
	e.session.Update(e.source.Metrics(now))

	if newlyConfirmed || e.bubbles.Confirmed() {
		e.silenced = false
		e.transition(StateBubbleAlarm, now)
		return
	}

	if e.source.TimeSinceFlow(now) > e.cfg.Monitor.NoFlowTimeout {
		e.silenced = false
		if e.session.VolumeComplete() {
			e.transition(StateComplete, now)
		} else {
			e.transition(StateNoFlow, now)
		}
		return
	}

	if e.session.TimeElapsed(now) {
		e.silenced = false
		if e.session.VolumeComplete() {
			e.transition(StateComplete, now)
		} else {
			e.transition(StateTimeElapsed, now)
		}
		return
	}

	m := e.session.Metrics()
	if now.Sub(e.lastDisplay) >= e.cfg.Monitor.DisplayInterval {
		e.renderMonitoring(m)
		e.lastDisplay = now
	}
	e.alarms.UpdateLights(m.RemainingML)
	e.evaluateMilestones(now, m)

	if m.RemainingML < e.cfg.Alarm.LowVolumeThresholdML {
		if e.session.Ledger().MarkOnce(notify.KindLowVolume) {
			e.notify(now, notify.KindLowVolume, fmt.Sprintf("IV low volume (%d mL).", int(m.RemainingML)))
		}
		if e.silenced {
			e.alarms.SetMode(alarm.ModeOff, now)
		} else {
			e.alarms.SetMode(alarm.ModeLow, now)
		}
	} else {
		e.alarms.SetMode(alarm.ModeOff, now)
	}

	if now.Sub(e.lastProbe) >= e.cfg.Notify.NetworkRecheck {
		e.lastProbe = now
		e.gateway.Refresh(e.ctx)
	}
}

// evaluateMilestones fires crossed milestones in increasing order, each at
// most once per episode. The 0% milestone is covered by the started
// notification.
func (e *Engine) evaluateMilestones(now time.Time, m estimator.Metrics) {
	for _, ms := range Milestones {
		if ms == 0 {
			continue
		}
		if m.PercentDelivered >= float64(ms) && e.session.Ledger().MarkOnce(notify.MilestoneKind(ms)) {
			e.notify(now, notify.MilestoneKind(ms), fmt.Sprintf("IV delivered %d%%.", ms))
		}
	}
}

func (e *Engine) stepBubbleAlarm(now time.Time) {
	if !e.drawn {
		e.display.Clear()
		e.display.WriteLine(0, "** BUBBLE DETECTED **")
		e.display.WriteLine(1, "CHECK IV LINE!")
		e.display.WriteLine(2, "Press ACK to clear")
		e.alarms.SetLight(device.LightRed)
		if e.session.Ledger().MarkOnce(notify.KindBubble) {
			e.notify(now, notify.KindBubble, "BUBBLE DETECTED - CHECK IV LINE")
		}
		e.drawn = true
	}
	e.holdAlarm(alarm.ModeBubble, now)
}

func (e *Engine) stepNoFlow(now time.Time) {
	m := e.session.Metrics()
	if !e.drawn {
		e.display.Clear()
		e.display.WriteLine(0, "** NO FLOW **")
		e.display.WriteLine(1, "Check line/clamp")
		e.display.WriteLine(2, fmt.Sprintf("Vol: %d/%dmL", int(m.DeliveredML), e.rx.TargetVolumeML()))
		e.display.WriteLine(3, "ACK=Silence")
		e.alarms.SetLight(device.LightRed)
		if e.session.Ledger().MarkOnce(notify.KindNoFlow) {
			e.notify(now, notify.KindNoFlow, fmt.Sprintf("NO FLOW - Check IV line (%dmL delivered)", int(m.DeliveredML)))
		}
		e.drawn = true
	}
	e.holdAlarm(alarm.ModeNoFlow, now)

	// Fresh flow within the grace window recovers without acknowledgment.
	if err := e.source.Sample(now); err != nil {
		e.enterFault(now, err)
		return
	}
	e.session.Update(e.source.Metrics(now))
	if e.source.TimeSinceFlow(now) < e.cfg.Monitor.FlowResumeGrace {
		e.silenced = false
		e.alarms.SetMode(alarm.ModeOff, now)
		e.appendEvent(now, "flow_resumed", "flow resumed")
		e.transition(StateMonitoring, now)
	}
}

func (e *Engine) stepTimeElapsed(now time.Time) {
	m := e.session.Metrics()
	if !e.drawn {
		e.display.Clear()
		e.display.WriteLine(0, "** TIME ELAPSED **")
		e.display.WriteLine(1, "Volume incomplete")
		e.display.WriteLine(2, fmt.Sprintf("%d/%dmL (%d%%)", int(m.DeliveredML), e.rx.TargetVolumeML(), int(m.PercentDelivered)))
		e.display.WriteLine(3, "ACK=Continue")
		e.alarms.SetLight(device.LightYellow)
		if e.session.Ledger().MarkOnce(notify.KindTimeElapsed) {
			e.notify(now, notify.KindTimeElapsed, fmt.Sprintf("TIME ELAPSED - Volume incomplete: %dmL/%dmL",
				int(m.DeliveredML), e.rx.TargetVolumeML()))
		}
		e.drawn = true
	}
	e.holdAlarm(alarm.ModeLow, now)

	// Delivery may still reach the target while held.
	if err := e.source.Sample(now); err != nil {
		e.enterFault(now, err)
		return
	}
	e.session.Update(e.source.Metrics(now))
	if e.session.VolumeComplete() {
		e.transition(StateComplete, now)
	}
}

func (e *Engine) stepComplete(now time.Time) {
	if !e.drawn {
		m := e.session.Metrics()
		e.display.Clear()
		e.display.WriteLine(0, "INFUSION COMPLETE")
		e.display.WriteLine(1, fmt.Sprintf("%dmL delivered", int(m.DeliveredML)))
		e.display.WriteLine(2, "100%")
		e.display.WriteLine(3, "Press NEW or TERM")
		e.alarms.SetLight(device.LightGreen)
		if e.session.Ledger().MarkOnce(notify.MilestoneKind(100)) {
			e.notify(now, notify.MilestoneKind(100), "IV completed 100%.")
		}
		e.archiveSession(now, model.OutcomeComplete)
		e.drawn = true
	}
	e.holdAlarm(alarm.ModeComplete, now)
}

func (e *Engine) stepFault(now time.Time) {
	if !e.drawn {
		e.display.Clear()
		e.display.WriteLine(0, "** SENSOR FAULT **")
		e.display.WriteLine(1, e.faultReason)
		e.display.WriteLine(2, "CAL=Recalibrate")
		e.display.WriteLine(3, "TERM=End session")
		e.alarms.SetLight(device.LightRed)
		e.drawn = true
	}
	e.holdAlarm(alarm.ModeFault, now)
}

// holdAlarm drives the held-state alarm pattern, honoring the silence latch.
func (e *Engine) holdAlarm(mode alarm.Mode, now time.Time) {
	if e.silenced {
		e.alarms.SetMode(alarm.ModeOff, now)
	} else {
		e.alarms.SetMode(mode, now)
	}
}

func (e *Engine) enterFault(now time.Time, err error) {
	log.Printf("sensor fault: %v", err)
	e.faultReason = err.Error()
	e.silenced = false
	e.appendEvent(now, "fault", err.Error())
	e.transition(StateFault, now)
}

// recalibrate reruns the weight calibration procedure. On failure the
// previous calibration, if any, stays in effect and the fault is held.
func (e *Engine) recalibrate(now time.Time) {
	if e.weight == nil || e.calibrator == nil {
		return
	}
	cal, err := e.calibrator.Run()
	if err != nil {
		log.Printf("calibration failed: %v", err)
		e.appendEvent(now, "calibration_failed", err.Error())
		return
	}
	e.weight.SetCalibration(cal)
	if _, err := e.store.SaveCalibration(e.ctx, cal.Offset, cal.Scale, e.clock()); err != nil {
		log.Printf("failed to persist calibration: %v", err)
	}
	e.faultReason = ""
	e.appendEvent(now, "calibrated", fmt.Sprintf("offset=%.1f scale=%.4f", cal.Offset, cal.Scale))
	e.transition(StateMonitoring, e.clock())
}

// resetCounters re-zeroes the estimator and session while preserving the
// prescription.
func (e *Engine) resetCounters(now time.Time) {
	e.source.Reset(now)
	e.session.ResetCounters(now)
	e.silenced = false
	e.alarms.SetMode(alarm.ModeOff, now)
	e.display.Clear()
	e.display.WriteLine(0, "COUNTERS RESET")
	e.display.WriteLine(1, "Prescription kept")
	e.appendEvent(now, "counters_reset", "counters reset, prescription kept")
}

func (e *Engine) renderMonitoring(m estimator.Metrics) {
	e.display.WriteLine(0, fmt.Sprintf("VOL %03d/%03d mL", int(m.DeliveredML), e.rx.TargetVolumeML()))
	e.display.WriteLine(1, fmt.Sprintf("%% %02d  Rem %03dmL", int(m.PercentDelivered), int(m.RemainingML)))
	e.display.WriteLine(2, fmt.Sprintf("Rate %02dgtt %02dmLh", int(m.RatePerMinute), int(m.MLPerHour)))
	if m.RemainingML < e.cfg.Alarm.LowVolumeThresholdML {
		e.display.WriteLine(3, "LOW VOLUME ALERT")
	} else if e.gateway.Mode() == notify.ModeOnline {
		e.display.WriteLine(3, "ONLINE  SMS ON")
	} else {
		e.display.WriteLine(3, "LOCAL ONLY SMS OFF")
	}
}

// notify records the event and dispatches the message when online. The
// caller has already latched the one-shot; a failed or suppressed send stays
// consumed.
func (e *Engine) notify(now time.Time, kind notify.Kind, body string) {
	attempted := e.gateway.Dispatch(kind, body)
	if !attempted {
		log.Printf("notification %q suppressed (local-only)", kind)
	}
	e.appendEvent(now, string(kind), body)
}

func (e *Engine) transition(to State, now time.Time) {
	if to == e.state {
		return
	}
	log.Printf("state: %s -> %s", e.state, to)
	e.state = to
	e.drawn = false
	e.appendEvent(now, "state", string(to))
}

func (e *Engine) archiveSession(now time.Time, outcome string) {
	if e.session == nil {
		return
	}
	rec, ok := e.session.Record(now, outcome)
	if !ok {
		return
	}
	if err := e.store.ArchiveSession(e.ctx, rec); err != nil {
		log.Printf("failed to archive session: %v", err)
	}
}

func (e *Engine) appendEvent(now time.Time, kind, message string) {
	var delivered float64
	if e.session != nil {
		delivered = e.session.Metrics().DeliveredML
	}
	ev := model.EventLog{
		At:          now,
		Kind:        kind,
		State:       string(e.state),
		Message:     message,
		DeliveredML: delivered,
		NetworkMode: string(e.gateway.Mode()),
	}
	if err := e.store.AppendEvent(e.ctx, ev); err != nil {
		log.Printf("failed to append event %q: %v", kind, err)
	}
}

// shutdown turns all outputs off and records the end of the session.
func (e *Engine) shutdown(now time.Time) {
	e.archiveSession(now, model.OutcomeTerminated)
	e.alarms.Shutdown()
	e.display.Clear()
	e.display.WriteLine(0, "SESSION ENDED")
	e.display.WriteLine(1, "System terminated")
	e.state = StateTerminated
	e.appendEvent(now, "shutdown", "session ended")
	e.publish(now)
	log.Println("monitoring engine stopped")
}
