package notify

import "fmt"

// Kind identifies an event class that notifies at most once per monitoring
// episode.
type Kind string

const (
	KindStarted     Kind = "started"
	KindLowVolume   Kind = "low_volume"
	KindBubble      Kind = "bubble"
	KindNoFlow      Kind = "no_flow"
	KindTimeElapsed Kind = "time_elapsed"
)

// MilestoneKind is the ledger key for a percent-delivered milestone.
func MilestoneKind(percent int) Kind {
	return Kind(fmt.Sprintf("milestone_%d", percent))
}

// Ledger is the per-episode one-shot latch set. A kind, once marked, stays
// marked until Reset (new prescription or counter reset), guaranteeing at
// most one outbound notification per event class per episode.
type Ledger struct {
	sent map[Kind]bool
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{sent: make(map[Kind]bool)}
}

// MarkOnce latches the kind and reports whether this call was the first.
func (l *Ledger) MarkOnce(kind Kind) bool {
	if l.sent[kind] {
		return false
	}
	l.sent[kind] = true
	return true
}

// Marked reports whether the kind has been latched.
func (l *Ledger) Marked(kind Kind) bool {
	return l.sent[kind]
}

// Reset clears every latch.
func (l *Ledger) Reset() {
	l.sent = make(map[Kind]bool)
}
