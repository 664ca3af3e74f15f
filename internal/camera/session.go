package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrorKind classifies a failed device acquisition.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermissionDenied
	KindDeviceNotFound
	KindDeviceBusy
	KindConstraints
)

// Error is a classified camera failure with a user-facing message.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Message returns the cause-matched text shown to the user.
func (e *Error) Message() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Camera access denied. Please enable camera permissions in your device settings."
	case KindDeviceNotFound:
		return "No camera found on this device."
	case KindDeviceBusy:
		return "Could not start video source. The camera might be in use by another application or there might be a hardware issue."
	case KindConstraints:
		return "The camera does not meet the requested constraints (e.g., resolution)."
	default:
		return "An unexpected camera error occurred."
	}
}

func classify(err error) *Error {
	kind := KindUnknown
	switch {
	case errors.Is(err, ErrPermissionDenied):
		kind = KindPermissionDenied
	case errors.Is(err, ErrDeviceNotFound):
		kind = KindDeviceNotFound
	case errors.Is(err, ErrDeviceBusy):
		kind = KindDeviceBusy
	case errors.Is(err, ErrConstraints):
		kind = KindConstraints
	}
	return &Error{Kind: kind, Err: err}
}

// Session scopes the acquisition and release of a camera stream to one
// verification attempt. The camera must never remain acquired after the
// attempt ends; Stop is safe to call on every exit path, double-stop is a
// no-op.
type Session struct {
	device   Device
	cfg      Constraints
	contrast int
	logger   zerolog.Logger

	mu     sync.Mutex
	stream Stream
}

// NewSession creates a session for one attempt. contrast is the fixed
// adjustment applied to captured stills.
func NewSession(device Device, cfg Constraints, contrast int, logger zerolog.Logger) *Session {
	return &Session{device: device, cfg: cfg, contrast: contrast, logger: logger}
}

// Start acquires the video stream. Failures are returned as *Error with a
// cause-matched user message.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return errors.New("camera session already started")
	}

	stream, err := s.device.Open(ctx, s.cfg)
	if err != nil {
		cerr := classify(err)
		s.logger.Error().Err(err).Int("kind", int(cerr.Kind)).Msg("camera acquisition failed")
		return cerr
	}
	s.stream = stream
	s.logger.Debug().Int("width", s.cfg.Width).Int("height", s.cfg.Height).Msg("camera stream acquired")
	return nil
}

// CaptureStill reads the current frame, mirrors it horizontally (selfie
// convention), applies the contrast adjustment and encodes a JPEG.
func (s *Session) CaptureStill() (Still, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return Still{}, errors.New("camera session not started")
	}

	frame, err := stream.Frame()
	if err != nil {
		return Still{}, fmt.Errorf("read frame: %w", err)
	}
	return encodeStill(frame, s.contrast)
}

// Stop releases the underlying stream. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("closing camera stream failed")
		return
	}
	s.logger.Debug().Msg("camera stream released")
}
