package verification

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miraattend/internal/camera"
	"miraattend/internal/faceverify"
	"miraattend/internal/geofence"
	"miraattend/internal/ledger"
	"miraattend/internal/liveness"
	"miraattend/internal/location"
	"miraattend/internal/queue"
	"miraattend/internal/users"
)

var campus = geofence.Coordinate{Latitude: 18.4550, Longitude: 79.5217}

type stubStream struct {
	mu     sync.Mutex
	closes int
}

func (s *stubStream) Frame() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *stubStream) closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type stubDevice struct {
	stream *stubStream
	err    error
}

func (d *stubDevice) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

// stubProvider replays the given updates, then blocks until cancelled.
type stubProvider struct {
	updates []location.Update
}

func (p *stubProvider) Watch(ctx context.Context) (<-chan location.Update, error) {
	ch := make(chan location.Update, len(p.updates))
	for _, u := range p.updates {
		ch <- u
	}
	return ch, nil
}

type stubOracle struct {
	outcome faceverify.Outcome
	err     error
}

func (o *stubOracle) Verify(ctx context.Context, reference, live faceverify.Image) (faceverify.Outcome, error) {
	return o.outcome, o.err
}

type stubConfirmer struct {
	answer bool
	err    error
	asked  bool
}

func (c *stubConfirmer) ConfirmOffCampus(ctx context.Context, distanceKm float64) (bool, error) {
	c.asked = true
	return c.answer, c.err
}

type recordingQueue struct {
	ch chan queue.Message
}

func (q *recordingQueue) Publish(ctx context.Context, msg queue.Message) error {
	q.ch <- msg
	return nil
}

func (q *recordingQueue) Consume(ctx context.Context) (<-chan queue.Message, error) {
	return q.ch, nil
}

func testSubject() users.User {
	ref := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF})
	return users.User{ID: "u1", PIN: "1234", Name: "Asha", Role: "student", ReferenceImageURL: ref}
}

func onCampusReading() geofence.Reading {
	return geofence.Reading{Coordinate: campus, AccuracyMeters: 30, CapturedAt: time.Now()}
}

func offCampusReading() geofence.Reading {
	return geofence.Reading{
		Coordinate:     geofence.Coordinate{Latitude: campus.Latitude + 0.01, Longitude: campus.Longitude},
		AccuracyMeters: 30,
		CapturedAt:     time.Now(),
	}
}

type harness struct {
	ctrl      *Controller
	ledger    *ledger.Ledger
	stream    *stubStream
	confirmer *stubConfirmer
	events    *recordingQueue
}

type harnessOpt func(*deps)

type deps struct {
	device    camera.Device
	provider  location.Provider
	oracle    faceverify.Oracle
	confirmer *stubConfirmer
	timeout   time.Duration
}

func withDevice(d camera.Device) harnessOpt {
	return func(ds *deps) { ds.device = d }
}

func withProvider(p location.Provider) harnessOpt {
	return func(ds *deps) { ds.provider = p }
}

func withOracle(o faceverify.Oracle) harnessOpt {
	return func(ds *deps) { ds.oracle = o }
}

func withConfirmer(c *stubConfirmer) harnessOpt {
	return func(ds *deps) { ds.confirmer = c }
}

func withLocationTimeout(d time.Duration) harnessOpt {
	return func(ds *deps) { ds.timeout = d }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()

	stream := &stubStream{}
	ds := &deps{
		device:    &stubDevice{stream: stream},
		provider:  &stubProvider{updates: []location.Update{{Reading: onCampusReading()}}},
		oracle:    &stubOracle{outcome: faceverify.Outcome{Match: true, Quality: faceverify.QualityGood, Reason: "OK"}},
		confirmer: &stubConfirmer{answer: true},
		timeout:   time.Second,
	}
	for _, opt := range opts {
		opt(ds)
	}

	led := ledger.New(ledger.NewMemoryRepository(), nil, zerolog.Nop())
	events := &recordingQueue{ch: make(chan queue.Message, 4)}
	directory := users.NewMemoryDirectory(testSubject())

	cfg := Config{
		Fence:           geofence.Fence{Center: campus, RadiusKm: 0.5},
		AccuracyMeters:  75,
		LocationTimeout: ds.timeout,
		Camera:          camera.Constraints{Width: 2, Height: 2},
		Contrast:        20,
		LivenessSettle:  time.Millisecond,
	}

	ctrl := New(directory, led, ds.oracle, ds.device, ds.provider,
		liveness.TimerDetector{Wait: time.Millisecond}, ds.confirmer, events, cfg, zerolog.Nop())

	return &harness{ctrl: ctrl, ledger: led, stream: stream, confirmer: ds.confirmer, events: events}
}

func TestController_SuccessfulOnCampusMark(t *testing.T) {
	h := newHarness(t)
	var states []liveness.State

	record, err := h.ctrl.Verify(context.Background(), testSubject(), func(s liveness.State) {
		states = append(states, s)
	})
	require.NoError(t, err)

	assert.Equal(t, "Present", record.Status)
	require.NotNil(t, record.Location)
	assert.Equal(t, "On-Campus", record.Location.Status)
	assert.Equal(t, []liveness.State{liveness.Aligning, liveness.AwaitingBlink, liveness.BlinkDetected, liveness.Capturing}, states)
	assert.False(t, h.confirmer.asked)

	select {
	case msg := <-h.events.ch:
		assert.Equal(t, queue.TypeAttendanceMarked, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("no notification event published")
	}
}

func TestController_CameraReleasedAfterCapture(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Verify(context.Background(), testSubject(), nil)
	require.NoError(t, err)

	// Once from the explicit post-capture stop; the deferred stop is a no-op.
	assert.Equal(t, 1, h.stream.closed())
}

func TestController_PrepareGuards(t *testing.T) {
	h := newHarness(t)

	prep, err := h.ctrl.Prepare(context.Background(), "1234")
	require.NoError(t, err)
	assert.True(t, prep.Ready())

	_, err = h.ctrl.Prepare(context.Background(), "9999")
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, StageLookup, f.Stage)

	_, _, err = h.ledger.MarkPresent(context.Background(), prep.Subject.ID, nil)
	require.NoError(t, err)

	prep, err = h.ctrl.Prepare(context.Background(), "1234")
	require.NoError(t, err)
	assert.False(t, prep.Ready())
	assert.NotNil(t, prep.AlreadyMarked)
}

func TestController_PoorQualityFails(t *testing.T) {
	h := newHarness(t, withOracle(&stubOracle{
		outcome: faceverify.Outcome{Match: false, Quality: faceverify.QualityPoor, Reason: "Blurry photo"},
	}))

	_, err := h.ctrl.Verify(context.Background(), testSubject(), nil)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, StageOracle, f.Stage)
	assert.Contains(t, f.Message, "Blurry photo")
	h.requireNothingMarked(t)
}

func TestController_NoMatchSurfacesReason(t *testing.T) {
	h := newHarness(t, withOracle(&stubOracle{
		outcome: faceverify.Outcome{Match: false, Quality: faceverify.QualityGood, Reason: "Faces do not match"},
	}))

	_, err := h.ctrl.Verify(context.Background(), testSubject(), nil)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, StageOracle, f.Stage)
	assert.Contains(t, f.Message, "Faces do not match")
	h.requireNothingMarked(t)
}

func TestController_NoMatchWithoutReason(t *testing.T) {
	h := newHarness(t, withOracle(&stubOracle{
		outcome: faceverify.Outcome{Match: false, Quality: faceverify.QualityGood, Reason: "OK"},
	}))

	_, err := h.ctrl.Verify(context.Background(), testSubject(), nil)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "Face not recognized.", f.Message)
	h.requireNothingMarked(t)
}

func TestController_OracleErrorFailsClosed(t *testing.T) {
	h := newHarness(t, withOracle(&stubOracle{err: errors.New("api down")}))

	_, err := h.ctrl.Verify(context.Background(), testSubject(), nil)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, StageOracle, f.Stage)
	assert.Contains(t, f.Message, "system error")
	h.requireNothingMarked(t)
}

func TestController_LocationTimeoutFailsClosed(t *testing.T) {
	h := newHarness(t,
		withProvider(&stubProvider{}),
		withLocationTimeout(20*time.Millisecond),
	)

	_, err := h.ctrl.Verify(context.Background(), testSubject(), nil)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, StageLocation, f.Stage)
	assert.Contains(t, f.Message, "Location is required to mark attendance")
	assert.Contains(t, f.Message, "TimedOut")
	h.requireNothingMarked(t)
}

func TestController_OffCampusConfirmed(t *testing.T) {
	confirmer := &stubConfirmer{answer: true}
	h := newHarness(t,
		withProvider(&stubProvider{updates: []location.Update{{Reading: offCampusReading()}}}),
		withConfirmer(confirmer),
	)

	record, err := h.ctrl.Verify(context.Background(), testSubject(), nil)
	require.NoError(t, err)

	assert.True(t, confirmer.asked)
	require.NotNil(t, record.Location)
	assert.Equal(t, "Off-Campus", record.Location.Status)
}

func TestController_OffCampusDeclined(t *testing.T) {
	confirmer := &stubConfirmer{answer: false}
	h := newHarness(t,
		withProvider(&stubProvider{updates: []location.Update{{Reading: offCampusReading()}}}),
		withConfirmer(confirmer),
	)

	_, err := h.ctrl.Verify(context.Background(), testSubject(), nil)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, StageLocation, f.Stage)
	assert.True(t, confirmer.asked)
	h.requireNothingMarked(t)
}

func TestController_CameraErrorSurfacesClassifiedMessage(t *testing.T) {
	h := newHarness(t, withDevice(&stubDevice{err: camera.ErrDeviceNotFound}))

	_, err := h.ctrl.Verify(context.Background(), testSubject(), nil)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, StageCamera, f.Stage)
	assert.Contains(t, f.Message, "No camera found")
	h.requireNothingMarked(t)
}

func (h *harness) requireNothingMarked(t *testing.T) {
	t.Helper()
	rec, err := h.ledger.TodaysRecord(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
