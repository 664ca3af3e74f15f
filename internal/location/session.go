package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"miraattend/internal/geofence"
)

// State is the lifecycle of one acquisition session.
type State int

const (
	Idle State = iota
	Fetching
	Resolved
	TimedOut
	PermissionError
	UnsupportedError
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Fetching:
		return "Fetching"
	case Resolved:
		return "Resolved"
	case TimedOut:
		return "TimedOut"
	case PermissionError:
		return "PermissionError"
	case UnsupportedError:
		return "UnsupportedError"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func (s State) terminal() bool {
	return s != Idle && s != Fetching
}

// Snapshot is a point-in-time view of the session. Best carries the latest
// reading even while still Fetching, so callers can show progress; Verdict is
// set only once Resolved.
type Snapshot struct {
	State   State
	Best    *geofence.Reading
	Verdict *geofence.Verdict
	Reason  string
}

// Session acquires one location reading accurate enough for a geofence
// decision, within a bounded time. It subscribes to a continuous watch and
// terminates on the first reading at or under the accuracy threshold, on the
// session timeout, or on a provider error. Cancel is idempotent and must be
// called on teardown so the watch never outlives the attempt.
type Session struct {
	provider  Provider
	fence     geofence.Fence
	threshold float64
	timeout   time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	state   State
	best    *geofence.Reading
	verdict *geofence.Verdict
	reason  string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession creates an idle session. threshold is the required accuracy in
// meters; timeout bounds the whole acquisition.
func NewSession(provider Provider, fence geofence.Fence, threshold float64, timeout time.Duration, logger zerolog.Logger) *Session {
	return &Session{
		provider:  provider,
		fence:     fence,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger,
		state:     Idle,
		done:      make(chan struct{}),
	}
}

// Start subscribes to the provider and begins acquisition. Calling Start on a
// session that is already Fetching or terminal is a programmer error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return errors.New("location session already started")
	}

	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	updates, err := s.provider.Watch(wctx)
	if err != nil {
		s.state = UnsupportedError
		s.reason = "Location services are not available on this device."
		close(s.done)
		s.mu.Unlock()
		cancel()
		s.logger.Warn().Err(err).Msg("location watch unsupported")
		return nil
	}

	s.state = Fetching
	s.mu.Unlock()

	go s.run(wctx, updates)
	return nil
}

// Snapshot returns the current state, best reading and verdict.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Best: s.best, Verdict: s.verdict, Reason: s.reason}
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel tears the session down, unsubscribing from the provider. Safe to
// call multiple times and in any state.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	if !s.state.terminal() {
		s.state = Cancelled
		close(s.done)
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) run(ctx context.Context, updates <-chan Update) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				s.finish(TimedOut, "Could not get an accurate location in time. Please try again in an open area.")
				return
			}
			if u.Err != nil {
				s.finishErr(u.Err)
				return
			}
			if s.observe(u.Reading) {
				return
			}
		case <-timer.C:
			s.finish(TimedOut, "Could not get an accurate location in time. Please try again in an open area.")
			return
		case <-ctx.Done():
			s.finish(Cancelled, "")
			return
		}
	}
}

// observe records a reading and resolves the session when it meets the
// accuracy threshold. Returns true when the session terminated.
func (s *Session) observe(r geofence.Reading) bool {
	s.mu.Lock()
	if s.state != Fetching {
		s.mu.Unlock()
		return true
	}
	reading := r
	s.best = &reading

	if r.AccuracyMeters > s.threshold {
		s.mu.Unlock()
		s.logger.Debug().
			Float64("accuracy_m", r.AccuracyMeters).
			Float64("threshold_m", s.threshold).
			Msg("reading below accuracy threshold, still fetching")
		return false
	}

	v := s.fence.Evaluate(r.Coordinate)
	s.verdict = &v
	s.state = Resolved
	cancel := s.cancel
	close(s.done)
	s.mu.Unlock()

	cancel()
	s.logger.Info().
		Float64("accuracy_m", r.AccuracyMeters).
		Float64("distance_km", v.DistanceKm).
		Bool("on_campus", v.OnCampus).
		Msg("location resolved")
	return true
}

func (s *Session) finishErr(err error) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		s.finish(PermissionError, "Location access was denied. Please enable it in your device settings.")
	case errors.Is(err, ErrTimeout):
		s.finish(TimedOut, "Location request timed out. Please try again.")
	default:
		s.finish(UnsupportedError, "Location information is unavailable. Check your GPS or network.")
	}
	s.logger.Warn().Err(err).Msg("location watch failed")
}

func (s *Session) finish(state State, reason string) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.reason = reason
	cancel := s.cancel
	close(s.done)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
