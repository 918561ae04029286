package prescription

import "iv-monitor-backend/config"

// Prescription stores and validates the prescribed infusion parameters.
// Derived rates are recomputed whenever an input changes and are present
// exactly when both volume and duration have been set.
type Prescription struct {
	bounds config.PrescriptionConfig

	targetVolumeML  int
	durationMinutes int
	dripFactor      int

	gttPerMinTarget   float64
	mlPerHrPrescribed float64
}

// New creates an empty prescription carrying the configured bounds and the
// default drip factor.
func New(bounds config.PrescriptionConfig) *Prescription {
	return &Prescription{
		bounds:     bounds,
		dripFactor: bounds.DefaultDripFactor,
	}
}

// SetVolume validates and stores the target volume in mL.
func (p *Prescription) SetVolume(volumeML int) bool {
	if volumeML < p.bounds.MinVolumeML || volumeML > p.bounds.MaxVolumeML {
		return false
	}
	p.targetVolumeML = volumeML
	p.recalculate()
	return true
}

// SetDuration validates and stores the infusion duration in minutes.
func (p *Prescription) SetDuration(durationMin int) bool {
	if durationMin < p.bounds.MinDurationMin || durationMin > p.bounds.MaxDurationMin {
		return false
	}
	p.durationMinutes = durationMin
	p.recalculate()
	return true
}

// SetDripFactor validates and stores the administration set drip factor
// (gtt/mL). Common sets are 10, 15, 20 and 60, but any value in 1..100 is
// accepted.
func (p *Prescription) SetDripFactor(dripFactor int) bool {
	if dripFactor < 1 || dripFactor > 100 {
		return false
	}
	p.dripFactor = dripFactor
	p.recalculate()
	return true
}

func (p *Prescription) recalculate() {
	if p.targetVolumeML <= 0 || p.durationMinutes <= 0 {
		p.gttPerMinTarget = 0
		p.mlPerHrPrescribed = 0
		return
	}
	p.mlPerHrPrescribed = float64(p.targetVolumeML) / float64(p.durationMinutes) * 60
	p.gttPerMinTarget = float64(p.targetVolumeML) * float64(p.dripFactor) / float64(p.durationMinutes)
}

// IsComplete reports whether both mandatory fields have been entered.
func (p *Prescription) IsComplete() bool {
	return p.targetVolumeML > 0 && p.durationMinutes > 0
}

// Reset clears all fields back to defaults.
func (p *Prescription) Reset() {
	p.targetVolumeML = 0
	p.durationMinutes = 0
	p.dripFactor = p.bounds.DefaultDripFactor
	p.gttPerMinTarget = 0
	p.mlPerHrPrescribed = 0
}

func (p *Prescription) TargetVolumeML() int  { return p.targetVolumeML }
func (p *Prescription) DurationMinutes() int { return p.durationMinutes }
func (p *Prescription) DripFactor() int      { return p.dripFactor }

// TargetGttPerMin is the prescribed drip rate; zero until complete.
func (p *Prescription) TargetGttPerMin() float64 { return p.gttPerMinTarget }

// TargetMLPerHour is the prescribed volumetric rate; zero until complete.
func (p *Prescription) TargetMLPerHour() float64 { return p.mlPerHrPrescribed }
