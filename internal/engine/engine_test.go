package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"iv-monitor-backend/config"
	"iv-monitor-backend/internal/alarm"
	"iv-monitor-backend/internal/bubble"
	"iv-monitor-backend/internal/device"
	"iv-monitor-backend/internal/estimator"
	"iv-monitor-backend/internal/model"
	"iv-monitor-backend/internal/notify"
	"iv-monitor-backend/internal/prescription"
)

// fakeSource is a scriptable estimator.Source.
type fakeSource struct {
	sampleErr error
	metrics   estimator.Metrics
	lastFlow  time.Time
	resets    int
}

func (f *fakeSource) Sample(now time.Time) error                 { return f.sampleErr }
func (f *fakeSource) Metrics(now time.Time) estimator.Metrics    { return f.metrics }
func (f *fakeSource) TimeSinceFlow(now time.Time) time.Duration  { return now.Sub(f.lastFlow) }
func (f *fakeSource) Reset(now time.Time)                        { f.resets++; f.lastFlow = now }

type fakeLevel struct {
	level bool
}

func (f *fakeLevel) Level() bool { return f.level }

type memDisplay struct {
	lines [device.DisplayRows]string
}

func (d *memDisplay) Clear() { d.lines = [device.DisplayRows]string{} }

func (d *memDisplay) WriteLine(i int, s string) {
	if i >= 0 && i < len(d.lines) {
		d.lines[i] = s
	}
}

type scriptInput struct {
	values []int
}

func (s *scriptInput) ReadInt(prompt string, min, max, fallback int) int {
	v := s.values[0]
	s.values = s.values[1:]
	return v
}

// memStore is an in-memory store.Store for engine tests.
type memStore struct {
	events   []model.EventLog
	sessions []model.SessionRecord
	cal      *model.CalibrationRecord
}

func (s *memStore) DB() *gorm.DB { return nil }

func (s *memStore) LoadCalibration(ctx context.Context) (*model.CalibrationRecord, error) {
	return s.cal, nil
}

func (s *memStore) SaveCalibration(ctx context.Context, offset, scale float64, at time.Time) (*model.CalibrationRecord, error) {
	s.cal = &model.CalibrationRecord{ID: model.CalibrationRecordID, Offset: offset, Scale: scale, CalibratedAt: at}
	return s.cal, nil
}

func (s *memStore) AppendEvent(ctx context.Context, ev model.EventLog) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) RecentEvents(ctx context.Context, limit int) ([]model.EventLog, error) {
	return s.events, nil
}

func (s *memStore) ArchiveSession(ctx context.Context, rec model.SessionRecord) error {
	s.sessions = append(s.sessions, rec)
	return nil
}

func (s *memStore) RecentSessions(ctx context.Context, limit int) ([]model.SessionRecord, error) {
	return s.sessions, nil
}

func (s *memStore) Subscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	return nil, nil
}

func (s *memStore) eventKinds() []string {
	kinds := make([]string, len(s.events))
	for i, ev := range s.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (s *memStore) countKind(kind string) int {
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	eng   *Engine
	cfg   *config.Config
	store *memStore
	src   *fakeSource
	ir    *fakeLevel
	slot  *fakeLevel
	disp  *memDisplay
	input *scriptInput
	start time.Time
}

// newMonitoringFixture builds an engine already in MONITORING with a
// 1000 mL / 60 min / 20 gtt prescription.
func newMonitoringFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.WorkerPool.Size = 1
	cfg.ApplyDefaults()

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rx := prescription.New(cfg.Prescription)
	require.True(t, rx.SetVolume(1000))
	require.True(t, rx.SetDuration(60))
	require.True(t, rx.SetDripFactor(20))

	st := &memStore{}
	src := &fakeSource{lastFlow: start}
	ir := &fakeLevel{level: true}
	slot := &fakeLevel{level: true}
	disp := &memDisplay{}
	input := &scriptInput{}

	eng := New(Options{
		Config:       cfg,
		Store:        st,
		Gateway:      notify.NewGateway(cfg.Notify, &config.Secrets{}, 1, st),
		Source:       src,
		Bubbles:      bubble.NewDetector(cfg.Sensor.BubbleConfirmWindow, true, true),
		IRLine:       ir,
		SlotLine:     slot,
		Alarms:       alarm.NewController(cfg.Alarm, &device.LogIndicator{}, &device.LogBeeper{}),
		Display:      disp,
		Input:        input,
		Buttons: Buttons{
			Acknowledge: &device.LatchButton{},
			New:         &device.LatchButton{},
			Reset:       &device.LatchButton{},
			Terminate:   &device.LatchButton{},
		},
		Prescription: rx,
		Clock:        func() time.Time { return start },
	})

	eng.state = StateMonitoring
	eng.session = NewSession(rx, start)
	eng.session.Update(estimator.Metrics{RemainingML: 1000})
	eng.lastDisplay = start
	eng.lastProbe = start

	return &fixture{eng: eng, cfg: cfg, store: st, src: src, ir: ir, slot: slot, disp: disp, input: input, start: start}
}

func (f *fixture) setProgress(deliveredML float64) {
	target := 1000.0
	f.src.metrics = estimator.Metrics{
		DeliveredML:      deliveredML,
		RemainingML:      target - deliveredML,
		PercentDelivered: deliveredML / target * 100,
	}
}

func TestMilestoneJumpFiresEachOnce(t *testing.T) {
	f := newMonitoringFixture(t)
	now := f.start.Add(time.Minute)
	f.src.lastFlow = now
	f.setProgress(600)

	f.eng.Step(now)
	assert.Equal(t, StateMonitoring, f.eng.State())
	assert.Equal(t, 1, f.store.countKind("milestone_25"))
	assert.Equal(t, 1, f.store.countKind("milestone_50"))
	assert.Equal(t, 0, f.store.countKind("milestone_100"))

	// Further cycles at the same progress do not re-fire.
	f.eng.Step(now.Add(100 * time.Millisecond))
	assert.Equal(t, 1, f.store.countKind("milestone_25"))
	assert.Equal(t, 1, f.store.countKind("milestone_50"))
}

func TestLowVolumeOneShot(t *testing.T) {
	f := newMonitoringFixture(t)
	now := f.start.Add(time.Minute)
	f.src.lastFlow = now
	f.setProgress(850) // 150 mL remaining, below the 200 mL threshold

	f.eng.Step(now)
	f.eng.Step(now.Add(100 * time.Millisecond))

	assert.Equal(t, 1, f.store.countKind("low_volume"))
	assert.Equal(t, alarm.ModeLow, f.eng.alarms.Mode())
}

func TestNoFlowAfterTimeout(t *testing.T) {
	f := newMonitoringFixture(t)
	f.setProgress(400)
	now := f.start.Add(30*time.Second + 100*time.Millisecond)

	f.eng.Step(now)
	assert.Equal(t, StateNoFlow, f.eng.State())
	assert.False(t, f.eng.silenced)

	// The held state renders and notifies once on the next cycle.
	f.eng.Step(now.Add(100 * time.Millisecond))
	assert.Equal(t, 1, f.store.countKind("no_flow"))
	assert.Contains(t, f.disp.lines[0], "NO FLOW")

	f.eng.Step(now.Add(200 * time.Millisecond))
	assert.Equal(t, 1, f.store.countKind("no_flow"))
}

func TestNoFlowWithVolumeMetIsComplete(t *testing.T) {
	f := newMonitoringFixture(t)
	f.setProgress(1000)
	now := f.start.Add(31 * time.Second)

	f.eng.Step(now)
	assert.Equal(t, StateComplete, f.eng.State())
}

func TestNoFlowAutoRecovery(t *testing.T) {
	f := newMonitoringFixture(t)
	f.setProgress(400)
	now := f.start.Add(31 * time.Second)
	f.eng.Step(now)
	require.Equal(t, StateNoFlow, f.eng.State())
	f.eng.Step(now.Add(100 * time.Millisecond))

	// Fresh flow inside the grace window resumes monitoring without an
	// acknowledgment, and the one-shot stays consumed.
	resumeAt := now.Add(10 * time.Second)
	f.src.lastFlow = resumeAt.Add(-time.Second)
	f.eng.Step(resumeAt)

	assert.Equal(t, StateMonitoring, f.eng.State())
	assert.True(t, f.eng.session.Ledger().Marked(notify.KindNoFlow))
	assert.Equal(t, 1, f.store.countKind("no_flow"))
}

func TestBubbleOutranksNoFlow(t *testing.T) {
	f := newMonitoringFixture(t)
	f.setProgress(400)

	// Both alarm conditions hold on the same cycle; the bubble wins.
	f.ir.level = false
	f.slot.level = false
	now := f.start.Add(31 * time.Second)

	f.eng.Step(now)
	assert.Equal(t, StateBubbleAlarm, f.eng.State())

	f.eng.Step(now.Add(100 * time.Millisecond))
	assert.Equal(t, 1, f.store.countKind("bubble"))
	assert.Contains(t, f.disp.lines[0], "BUBBLE")
}

func TestBubbleAckClearsAndResumes(t *testing.T) {
	f := newMonitoringFixture(t)
	f.src.lastFlow = f.start
	f.ir.level = false
	f.slot.level = false
	now := f.start.Add(time.Second)
	f.eng.Step(now)
	require.Equal(t, StateBubbleAlarm, f.eng.State())

	f.ir.level = true
	f.slot.level = true
	f.eng.buttons.Acknowledge.(*device.LatchButton).Press()
	f.src.lastFlow = now
	f.eng.Step(now.Add(100 * time.Millisecond))

	assert.Equal(t, StateMonitoring, f.eng.State())
	assert.False(t, f.eng.bubbles.Confirmed())
	assert.True(t, f.eng.silenced)

	// Monitoring continues without immediately re-entering the alarm.
	f.eng.Step(now.Add(200 * time.Millisecond))
	assert.Equal(t, StateMonitoring, f.eng.State())
}

func TestTimeElapsedThenComplete(t *testing.T) {
	f := newMonitoringFixture(t)
	f.setProgress(900)
	now := f.start.Add(60*time.Minute + time.Second)
	f.src.lastFlow = now

	f.eng.Step(now)
	assert.Equal(t, StateTimeElapsed, f.eng.State())

	f.eng.Step(now.Add(100 * time.Millisecond))
	assert.Equal(t, 1, f.store.countKind("time_elapsed"))

	// Delivery reaches the target while held: auto-advance to COMPLETE.
	f.setProgress(1000)
	f.eng.Step(now.Add(200 * time.Millisecond))
	assert.Equal(t, StateComplete, f.eng.State())
}

func TestCompleteArchivesAndNotifiesOnce(t *testing.T) {
	f := newMonitoringFixture(t)
	f.setProgress(1000)
	now := f.start.Add(31 * time.Second)
	f.eng.Step(now)
	require.Equal(t, StateComplete, f.eng.State())

	f.eng.Step(now.Add(100 * time.Millisecond))
	f.eng.Step(now.Add(200 * time.Millisecond))

	assert.Equal(t, 1, f.store.countKind("milestone_100"))
	require.Len(t, f.store.sessions, 1)
	assert.Equal(t, model.OutcomeComplete, f.store.sessions[0].Outcome)
}

func TestCounterResetPreservesPrescription(t *testing.T) {
	f := newMonitoringFixture(t)
	now := f.start.Add(time.Minute)
	f.src.lastFlow = now
	f.setProgress(600)
	f.eng.Step(now)
	require.True(t, f.eng.session.Ledger().Marked(notify.MilestoneKind(50)))

	f.eng.buttons.Reset.(*device.LatchButton).Press()
	resetAt := now.Add(100 * time.Millisecond)
	f.eng.Step(resetAt)

	assert.Equal(t, StateMonitoring, f.eng.State())
	assert.Equal(t, 1, f.src.resets)
	assert.Equal(t, resetAt, f.eng.session.StartedAt())
	assert.False(t, f.eng.session.Ledger().Marked(notify.MilestoneKind(50)))
	assert.Equal(t, 1000, f.eng.rx.TargetVolumeML())
	assert.Equal(t, 1, f.store.countKind("counters_reset"))
}

func TestSensorFaultEntersHeldFault(t *testing.T) {
	f := newMonitoringFixture(t)
	f.src.sampleErr = estimator.ErrSensorFault

	now := f.start.Add(time.Second)
	f.eng.Step(now)
	assert.Equal(t, StateFault, f.eng.State())

	f.eng.Step(now.Add(100 * time.Millisecond))
	assert.Contains(t, f.disp.lines[0], "FAULT")
	assert.Equal(t, alarm.ModeFault, f.eng.alarms.Mode())

	// Acknowledge silences the buzzer but the fault is held.
	f.eng.buttons.Acknowledge.(*device.LatchButton).Press()
	f.eng.Step(now.Add(200 * time.Millisecond))
	assert.Equal(t, StateFault, f.eng.State())
	assert.True(t, f.eng.silenced)
	assert.Equal(t, alarm.ModeOff, f.eng.alarms.Mode())
}

func TestTerminateIsAbsorbing(t *testing.T) {
	f := newMonitoringFixture(t)
	now := f.start.Add(time.Second)
	f.src.lastFlow = now
	f.eng.Step(now)

	f.eng.buttons.Terminate.(*device.LatchButton).Press()
	f.eng.Step(now.Add(100 * time.Millisecond))
	assert.Equal(t, StateTerminated, f.eng.State())

	f.eng.buttons.New.(*device.LatchButton).Press()
	f.eng.Step(now.Add(200 * time.Millisecond))
	assert.Equal(t, StateTerminated, f.eng.State())
}

func TestNewPrescriptionArchivesReplaced(t *testing.T) {
	f := newMonitoringFixture(t)
	now := f.start.Add(time.Minute)
	f.src.lastFlow = now
	f.setProgress(300)
	f.eng.Step(now)

	f.input.values = []int{500, 30, 20}
	f.eng.buttons.New.(*device.LatchButton).Press()
	f.eng.Step(now.Add(100 * time.Millisecond))
	require.Equal(t, StatePrescriptionInput, f.eng.State())

	// The next cycle runs the entry flow and starts a fresh session.
	f.eng.Step(now.Add(200 * time.Millisecond))
	assert.Equal(t, StateMonitoring, f.eng.State())
	assert.Equal(t, 500, f.eng.rx.TargetVolumeML())
	assert.Equal(t, 30, f.eng.rx.DurationMinutes())

	require.Len(t, f.store.sessions, 1)
	assert.Equal(t, model.OutcomeReplaced, f.store.sessions[0].Outcome)
	assert.InDelta(t, 300.0, f.store.sessions[0].DeliveredML, 0.001)
	assert.True(t, f.eng.session.Ledger().Marked(notify.KindStarted))
}

func TestSnapshotPublished(t *testing.T) {
	f := newMonitoringFixture(t)
	now := f.start.Add(time.Minute)
	f.src.lastFlow = now
	f.setProgress(250)

	f.eng.Step(now)
	snap := f.eng.Snapshot()

	assert.Equal(t, StateMonitoring, snap.State)
	assert.Equal(t, notify.ModeLocalOnly, snap.NetworkMode)
	require.NotNil(t, snap.Prescription)
	assert.Equal(t, 1000, snap.Prescription.TargetVolumeML)
	require.NotNil(t, snap.Metrics)
	assert.InDelta(t, 250.0, snap.Metrics.DeliveredML, 0.001)
	assert.Equal(t, now, snap.UpdatedAt)
}

func TestRecalibrateFromFault(t *testing.T) {
	f := newMonitoringFixture(t)

	// Weight variant wiring: a calibrator that immediately succeeds.
	reader := &drainReader{values: []int64{1000, 6000}}
	f.eng.weight = estimator.NewWeightSource(reader, f.eng.rx, estimator.Calibration{}, 50, f.start)
	f.eng.calibrator = estimator.NewCalibrator(reader, f.disp, alwaysPressed{}, 3, 500, time.Second)

	f.src.sampleErr = estimator.ErrSensorFault
	now := f.start.Add(time.Second)
	f.eng.Step(now)
	require.Equal(t, StateFault, f.eng.State())

	f.src.sampleErr = nil
	f.eng.buttons.Reset.(*device.LatchButton).Press()
	f.eng.Step(now.Add(100 * time.Millisecond))

	assert.Equal(t, StateMonitoring, f.eng.State())
	require.NotNil(t, f.store.cal)
	assert.InDelta(t, 1000.0, f.store.cal.Offset, 0.001)
	assert.InDelta(t, 10.0, f.store.cal.Scale, 0.001)
	assert.Empty(t, f.eng.faultReason)
}

type alwaysPressed struct{}

func (alwaysPressed) Pressed() bool { return true }

// drainReader replays scripted raw load-cell readings.
type drainReader struct {
	values []int64
}

func (r *drainReader) ReadRaw(timeout time.Duration) (int64, error) {
	v := r.values[0]
	if len(r.values) > 1 {
		r.values = r.values[1:]
	}
	return v, nil
}

func (r *drainReader) ReadAverage(times int, timeout time.Duration) (int64, error) {
	return r.ReadRaw(timeout)
}
