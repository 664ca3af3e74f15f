package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream counts closes and serves a fixed frame.
type fakeStream struct {
	frame  image.Image
	closes int
}

func (s *fakeStream) Frame() (image.Image, error) { return s.frame, nil }

func (s *fakeStream) Close() error {
	s.closes++
	return nil
}

type fakeDevice struct {
	stream *fakeStream
	err    error
}

func (d *fakeDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

// asymmetricFrame is black except for a white pixel in the top-left corner,
// so mirroring is observable.
func asymmetricFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{255, 255, 255, 255})
	return img
}

func TestSession_CaptureStillMirrorsFrame(t *testing.T) {
	stream := &fakeStream{frame: asymmetricFrame()}
	s := NewSession(&fakeDevice{stream: stream}, Constraints{Width: 4, Height: 4}, 20, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	still, err := s.CaptureStill()
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", still.MIME)
	assert.Equal(t, 4, still.Width)
	assert.Equal(t, 4, still.Height)

	decoded, err := jpeg.Decode(bytes.NewReader(still.Data))
	require.NoError(t, err)

	// The white pixel moved from the left edge to the right edge. JPEG is
	// lossy, so compare brightness rather than exact values.
	left, _, _, _ := decoded.At(0, 0).RGBA()
	right, _, _, _ := decoded.At(3, 0).RGBA()
	assert.Greater(t, right, left)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	stream := &fakeStream{frame: asymmetricFrame()}
	s := NewSession(&fakeDevice{stream: stream}, Constraints{}, 20, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
	s.Stop()

	assert.Equal(t, 1, stream.closes)
}

func TestSession_StopBeforeStartIsANoOp(t *testing.T) {
	s := NewSession(&fakeDevice{}, Constraints{}, 20, zerolog.Nop())
	s.Stop()
}

func TestSession_StartTwiceIsAnError(t *testing.T) {
	stream := &fakeStream{frame: asymmetricFrame()}
	s := NewSession(&fakeDevice{stream: stream}, Constraints{}, 20, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}

func TestSession_ErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		cause   error
		kind    ErrorKind
		message string
	}{
		{"permission", ErrPermissionDenied, KindPermissionDenied, "Camera access denied"},
		{"not found", ErrDeviceNotFound, KindDeviceNotFound, "No camera found"},
		{"busy", ErrDeviceBusy, KindDeviceBusy, "in use by another application"},
		{"constraints", ErrConstraints, KindConstraints, "requested constraints"},
		{"unknown", errors.New("boom"), KindUnknown, "unexpected camera error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession(&fakeDevice{err: tc.cause}, Constraints{}, 20, zerolog.Nop())

			err := s.Start(context.Background())
			require.Error(t, err)

			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.kind, cerr.Kind)
			assert.Contains(t, cerr.Message(), tc.message)
		})
	}
}

func TestSession_CaptureAfterStopFails(t *testing.T) {
	stream := &fakeStream{frame: asymmetricFrame()}
	s := NewSession(&fakeDevice{stream: stream}, Constraints{}, 20, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	_, err := s.CaptureStill()
	assert.Error(t, err)
}
