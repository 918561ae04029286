package device

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogDisplay writes display lines to the process log. It stands in for the
// character LCD when the daemon runs headless.
type LogDisplay struct{}

func (LogDisplay) Clear() {}

func (LogDisplay) WriteLine(index int, text string) {
	if len(text) > DisplayCols {
		text = text[:DisplayCols]
	}
	log.Printf("lcd[%d] %-*s", index, DisplayCols, text)
}

// ReaderInput reads validated integers line by line, re-prompting on
// out-of-range values the way the keypad entry screens do. An empty line or
// EOF cancels and yields the fallback.
type ReaderInput struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewReaderInput wraps an input stream (normally stdin) and an output stream
// for prompts.
func NewReaderInput(r io.Reader, w io.Writer) *ReaderInput {
	return &ReaderInput{scanner: bufio.NewScanner(r), out: w}
}

func (in *ReaderInput) ReadInt(prompt string, min, max, fallback int) int {
	for {
		fmt.Fprintf(in.out, "%s [%d-%d, empty=%d]: ", prompt, min, max, fallback)
		if !in.scanner.Scan() {
			return fallback
		}
		line := strings.TrimSpace(in.scanner.Text())
		if line == "" {
			return fallback
		}
		v, err := strconv.Atoi(line)
		if err != nil || v < min || v > max {
			fmt.Fprintf(in.out, "invalid, expected %d-%d\n", min, max)
			continue
		}
		return v
	}
}

// LatchButton is a software button: Press latches one rising edge that the
// next Pressed call consumes. Safe for use from a second goroutine (e.g. an
// API-triggered acknowledge).
type LatchButton struct {
	mu      sync.Mutex
	pressed bool
}

func (b *LatchButton) Press() {
	b.mu.Lock()
	b.pressed = true
	b.mu.Unlock()
}

func (b *LatchButton) Pressed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pressed
	b.pressed = false
	return p
}

// StaticLevel is a SignalReader pinned to one level.
type StaticLevel bool

func (l StaticLevel) Level() bool { return bool(l) }

// PulseLine simulates a drop sensor line emitting pulses at a fixed rate,
// for bench runs without hardware. The line reads high for pulseWidth at the
// start of every period.
type PulseLine struct {
	start      time.Time
	period     time.Duration
	pulseWidth time.Duration
}

// NewPulseLine creates a line pulsing ratePerMin times per minute.
func NewPulseLine(start time.Time, ratePerMin int) *PulseLine {
	if ratePerMin <= 0 {
		ratePerMin = 1
	}
	return &PulseLine{
		start:      start,
		period:     time.Minute / time.Duration(ratePerMin),
		pulseWidth: 20 * time.Millisecond,
	}
}

func (p *PulseLine) Level() bool {
	offset := time.Since(p.start) % p.period
	return offset < p.pulseWidth
}

// DrainingRaw simulates a load cell under a reservoir draining at a fixed
// rate, for bench runs without hardware. Raw counts track the simulated
// weight at 10 counts per gram with no offset.
type DrainingRaw struct {
	start      time.Time
	startGrams float64
	gramsPerHr float64
}

func NewDrainingRaw(start time.Time, startGrams, gramsPerHour float64) *DrainingRaw {
	return &DrainingRaw{start: start, startGrams: startGrams, gramsPerHr: gramsPerHour}
}

func (d *DrainingRaw) grams() float64 {
	g := d.startGrams - time.Since(d.start).Hours()*d.gramsPerHr
	if g < 0 {
		g = 0
	}
	return g
}

func (d *DrainingRaw) ReadRaw(timeout time.Duration) (int64, error) {
	return int64(d.grams() * 10), nil
}

func (d *DrainingRaw) ReadAverage(times int, timeout time.Duration) (int64, error) {
	return d.ReadRaw(timeout)
}

// LogIndicator logs traffic-light changes.
type LogIndicator struct {
	last Light
}

func (i *LogIndicator) Set(light Light) {
	if light == i.last {
		return
	}
	i.last = light
	log.Printf("indicator: %s", light)
}

// LogBeeper logs buzzer output edges.
type LogBeeper struct {
	on bool
}

func (b *LogBeeper) Set(on bool) {
	if on == b.on {
		return
	}
	b.on = on
	if on {
		log.Printf("buzzer: on")
	} else {
		log.Printf("buzzer: off")
	}
}
