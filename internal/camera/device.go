package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
)

// Device acquisition failure kinds. Platform integrations wrap their native
// errors with these sentinels so the session can map them to user-facing
// messages.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("camera device not found")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrConstraints      = errors.New("camera constraints unsatisfiable")
)

// Constraints requests a capture resolution from the device.
type Constraints struct {
	Width  int
	Height int
}

// Stream is an open video source. Frame returns the most recent frame; Close
// releases the underlying device and must be safe to call once.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// Device opens a video stream. The physical camera is an exclusive,
// device-global resource: implementations must fail with ErrDeviceBusy when
// it is already held.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// FileDevice serves frames decoded from an image file. It stands in for a
// real capture device on kiosks without camera integration and in tests.
type FileDevice struct {
	Path string

	mu   sync.Mutex
	open bool
}

// Open decodes the configured file into a single-frame stream.
func (d *FileDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, d.Path)
	}

	f, err := os.Open(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, d.Path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, d.Path)
		}
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame source: %w", err)
	}

	d.open = true
	return &fileStream{device: d, frame: img}, nil
}

// FrameDevice serves a single already-decoded frame. The API uses it to run
// an uploaded photo through the same capture pipeline a live camera feeds.
type FrameDevice struct {
	Frame image.Image
}

// Open returns a one-frame stream, or ErrDeviceNotFound when no frame is set.
func (d *FrameDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if d.Frame == nil {
		return nil, fmt.Errorf("%w: no frame", ErrDeviceNotFound)
	}
	return &frameStream{frame: d.Frame}, nil
}

type frameStream struct {
	mu     sync.Mutex
	frame  image.Image
	closed bool
}

func (s *frameStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("stream closed")
	}
	return s.frame, nil
}

func (s *frameStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fileStream struct {
	device *FileDevice
	frame  image.Image
	closed bool
	mu     sync.Mutex
}

func (s *fileStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("stream closed")
	}
	return s.frame, nil
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.device.mu.Lock()
	s.device.open = false
	s.device.mu.Unlock()
	return nil
}
