package liveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the liveness progression for one verification attempt.
type State int

const (
	Idle State = iota
	Aligning
	AwaitingBlink
	BlinkDetected
	Capturing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Aligning:
		return "Aligning"
	case AwaitingBlink:
		return "AwaitingBlink"
	case BlinkDetected:
		return "BlinkDetected"
	case Capturing:
		return "Capturing"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Detector signals that a blink (or an equivalent liveness cue) happened.
// The fixed-timer implementation below is one conforming variant; a real
// computer-vision detector is another.
type Detector interface {
	AwaitBlink(ctx context.Context) error
}

// TimerDetector reports a blink after a fixed wait.
type TimerDetector struct {
	Wait time.Duration
}

// AwaitBlink waits out the configured window.
func (d TimerDetector) AwaitBlink(ctx context.Context) error {
	t := time.NewTimer(d.Wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Gate forces a minimal temporal liveness check before capture, defending
// against a static photo held to the camera. Transitions are strictly
// sequential: Capturing is reachable only through Aligning and AwaitingBlink.
type Gate struct {
	settle   time.Duration
	detector Detector
	onState  func(State)
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewGate creates an idle gate. onState, when non-nil, observes every
// transition (used for progress display).
func NewGate(settle time.Duration, detector Detector, onState func(State), logger zerolog.Logger) *Gate {
	return &Gate{settle: settle, detector: detector, onState: onState, logger: logger, state: Idle}
}

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Run drives the gate from Idle through Capturing. Returns an error (and
// lands in Failed) when the detector fails or the context ends. The gate is
// single-use; a retry constructs a fresh gate.
func (g *Gate) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.state != Idle {
		g.mu.Unlock()
		return errors.New("liveness gate already run")
	}
	g.mu.Unlock()

	g.transition(Aligning)
	if err := g.sleep(ctx, g.settle); err != nil {
		g.fail(err)
		return err
	}

	g.transition(AwaitingBlink)
	if err := g.detector.AwaitBlink(ctx); err != nil {
		g.fail(err)
		return err
	}

	g.transition(BlinkDetected)
	g.transition(Capturing)
	return nil
}

// Fail forces the gate into the terminal Failed state on an externally
// signaled error (camera or oracle failure).
func (g *Gate) Fail() {
	g.transition(Failed)
}

func (g *Gate) fail(err error) {
	g.logger.Warn().Err(err).Msg("liveness gate failed")
	g.transition(Failed)
}

func (g *Gate) transition(next State) {
	g.mu.Lock()
	if g.state == Failed {
		g.mu.Unlock()
		return
	}
	g.state = next
	g.mu.Unlock()
	if g.onState != nil {
		g.onState(next)
	}
}

func (g *Gate) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
