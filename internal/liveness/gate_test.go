package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type failingDetector struct{ err error }

func (d failingDetector) AwaitBlink(ctx context.Context) error { return d.err }

func TestGate_OrderedTransitions(t *testing.T) {
	rec := &stateRecorder{}
	g := NewGate(time.Millisecond, TimerDetector{Wait: time.Millisecond}, rec.record, zerolog.Nop())

	require.NoError(t, g.Run(context.Background()))

	assert.Equal(t, []State{Aligning, AwaitingBlink, BlinkDetected, Capturing}, rec.all())
	assert.Equal(t, Capturing, g.State())
}

func TestGate_DetectorFailureLandsInFailed(t *testing.T) {
	rec := &stateRecorder{}
	g := NewGate(time.Millisecond, failingDetector{err: errors.New("no blink")}, rec.record, zerolog.Nop())

	err := g.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, Failed, g.State())
	// Capturing must never appear after a failure.
	assert.NotContains(t, rec.all(), Capturing)
}

func TestGate_ContextCancelDuringSettle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGate(time.Second, TimerDetector{Wait: time.Second}, nil, zerolog.Nop())
	err := g.Run(ctx)

	require.Error(t, err)
	assert.Equal(t, Failed, g.State())
}

func TestGate_IsSingleUse(t *testing.T) {
	g := NewGate(time.Millisecond, TimerDetector{Wait: time.Millisecond}, nil, zerolog.Nop())

	require.NoError(t, g.Run(context.Background()))
	assert.Error(t, g.Run(context.Background()))
}

func TestGate_ExternalFailIsTerminal(t *testing.T) {
	g := NewGate(time.Millisecond, TimerDetector{Wait: time.Millisecond}, nil, zerolog.Nop())
	g.Fail()

	assert.Equal(t, Failed, g.State())
	assert.Error(t, g.Run(context.Background()))
	assert.Equal(t, Failed, g.State())
}
