package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"miraattend/internal/camera"
	"miraattend/internal/faceverify"
	"miraattend/internal/geofence"
	"miraattend/internal/ledger"
	"miraattend/internal/liveness"
	"miraattend/internal/location"
	"miraattend/internal/queue"
	"miraattend/internal/users"
)

// Stage identifies where an attempt failed.
type Stage string

const (
	StageLookup   Stage = "lookup"
	StageGuard    Stage = "guard"
	StageCamera   Stage = "camera"
	StageLiveness Stage = "liveness"
	StageOracle   Stage = "oracle"
	StageLocation Stage = "location"
	StageLedger   Stage = "ledger"
)

// Failure is a terminal attempt failure with a user-facing message.
type Failure struct {
	Stage   Stage
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Stage, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Stage, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

var (
	attempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verification_attempts_total",
		Help: "Verification attempts started.",
	})
	commits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verification_commits_total",
		Help: "Verification attempts that marked attendance.",
	})
	failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_failures_total",
		Help: "Verification failures by stage.",
	}, []string{"stage"})
)

// Confirmer asks the subject whether to proceed when the resolved location is
// outside the campus fence. Returning false aborts the attempt without a
// ledger write.
type Confirmer interface {
	ConfirmOffCampus(ctx context.Context, distanceKm float64) (bool, error)
}

// Preparation is the result of resolving a subject before an attempt.
// AlreadyMarked carries today's record when the duplicate guard fires;
// MissingReference is set when the subject has no stored reference photo.
// Either condition disables the attempt.
type Preparation struct {
	Subject          users.User
	AlreadyMarked    *ledger.Record
	MissingReference bool
}

// Ready reports whether an attempt may start.
func (p Preparation) Ready() bool {
	return p.AlreadyMarked == nil && !p.MissingReference
}

// Config carries the attempt parameters. The blink window lives in the
// injected Detector, not here.
type Config struct {
	Fence           geofence.Fence
	AccuracyMeters  float64
	LocationTimeout time.Duration
	Camera          camera.Constraints
	Contrast        int
	LivenessSettle  time.Duration
}

// Controller orchestrates one verification attempt end to end: location and
// camera acquisition, the liveness gate, the face oracle, the location join
// and the ledger commit. Every exit path tears the sessions down.
type Controller struct {
	directory users.Directory
	ledger    *ledger.Ledger
	oracle    faceverify.Oracle
	device    camera.Device
	provider  location.Provider
	detector  liveness.Detector
	confirmer Confirmer
	events    queue.Queue
	cfg       Config
	logger    zerolog.Logger
}

// New wires a controller. events may be nil when no notification queue is
// configured.
func New(
	directory users.Directory,
	led *ledger.Ledger,
	oracle faceverify.Oracle,
	device camera.Device,
	provider location.Provider,
	detector liveness.Detector,
	confirmer Confirmer,
	events queue.Queue,
	cfg Config,
	logger zerolog.Logger,
) *Controller {
	return &Controller{
		directory: directory,
		ledger:    led,
		oracle:    oracle,
		device:    device,
		provider:  provider,
		detector:  detector,
		confirmer: confirmer,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// Prepare resolves the subject by PIN and runs the pre-attempt guards.
func (c *Controller) Prepare(ctx context.Context, pin string) (Preparation, error) {
	subject, err := c.directory.ByPIN(ctx, pin)
	if err != nil {
		return Preparation{}, &Failure{Stage: StageLookup, Message: "Student not found.", Err: err}
	}

	prep := Preparation{Subject: subject, MissingReference: !subject.HasReference()}
	existing, err := c.ledger.TodaysRecord(ctx, subject.ID)
	if err != nil {
		return Preparation{}, &Failure{Stage: StageGuard, Err: err, Message: "Could not check today's attendance."}
	}
	prep.AlreadyMarked = existing
	return prep, nil
}

// Verify runs one attempt for a prepared subject. On success the attendance
// record is returned; on failure a *Failure describes the stage and the
// message to show. onLiveness, when non-nil, observes gate transitions.
func (c *Controller) Verify(ctx context.Context, subject users.User, onLiveness func(liveness.State)) (ledger.Record, error) {
	attempts.Inc()
	log := c.logger.With().Str("user_id", subject.ID).Logger()

	loc := location.NewSession(c.provider, c.cfg.Fence, c.cfg.AccuracyMeters, c.cfg.LocationTimeout, log)
	if err := loc.Start(ctx); err != nil {
		return c.fail(log, &Failure{Stage: StageLocation, Err: err, Message: "Location session could not start."})
	}
	defer loc.Cancel()

	cam := camera.NewSession(c.device, c.cfg.Camera, c.cfg.Contrast, log)
	if err := cam.Start(ctx); err != nil {
		return c.fail(log, cameraFailure(err))
	}
	defer cam.Stop()

	gate := liveness.NewGate(c.cfg.LivenessSettle, c.detector, onLiveness, log)
	if err := gate.Run(ctx); err != nil {
		return c.fail(log, &Failure{Stage: StageLiveness, Err: err, Message: "Liveness check did not complete. Please try again."})
	}

	still, err := cam.CaptureStill()
	if err != nil {
		gate.Fail()
		return c.fail(log, &Failure{Stage: StageCamera, Err: err, Message: "Could not capture a photo. Please try again."})
	}
	// The lens goes dark as soon as the still exists; nothing past this point
	// needs the stream.
	cam.Stop()

	reference, err := faceverify.FetchImage(ctx, subject.ReferenceImageURL)
	if err != nil {
		gate.Fail()
		return c.fail(log, &Failure{Stage: StageOracle, Err: err, Message: "Could not verify face due to a system error."})
	}

	outcome, err := c.oracle.Verify(ctx, reference, faceverify.Image{Data: still.Data, MIME: still.MIME})
	if err != nil {
		gate.Fail()
		return c.fail(log, &Failure{Stage: StageOracle, Err: err, Message: "Could not verify face due to a system error."})
	}
	if !outcome.Usable() {
		gate.Fail()
		return c.fail(log, &Failure{Stage: StageOracle, Message: fmt.Sprintf("Verification failed: %s.", outcome.Reason)})
	}
	if !outcome.Match {
		gate.Fail()
		msg := "Face not recognized."
		if outcome.Reason != "" && outcome.Reason != "OK" {
			msg = fmt.Sprintf("Verification failed: %s.", outcome.Reason)
		}
		return c.fail(log, &Failure{Stage: StageOracle, Message: msg})
	}

	stamp, failure := c.joinLocation(ctx, loc)
	if failure != nil {
		gate.Fail()
		return c.fail(log, failure)
	}

	record, created, err := c.ledger.MarkPresent(ctx, subject.ID, stamp)
	if err != nil {
		return c.fail(log, &Failure{Stage: StageLedger, Err: err, Message: "Could not save the attendance record. Please try again."})
	}
	commits.Inc()
	if created {
		c.publishMarked(subject, record)
	}
	return record, nil
}

// joinLocation waits for the location session to terminate and applies the
// fail-closed policy: only a Resolved session may lead to a commit, and an
// off-campus verdict needs explicit confirmation.
func (c *Controller) joinLocation(ctx context.Context, loc *location.Session) (*ledger.LocationStamp, *Failure) {
	select {
	case <-loc.Done():
	case <-ctx.Done():
		return nil, &Failure{Stage: StageLocation, Err: ctx.Err(), Message: "Verification was cancelled."}
	}

	snap := loc.Snapshot()
	if snap.State != location.Resolved {
		reason := snap.Reason
		if reason == "" {
			reason = "Please ensure location services are enabled."
		}
		return nil, &Failure{
			Stage:   StageLocation,
			Message: fmt.Sprintf("Location is required to mark attendance. Status: %s. %s", snap.State, reason),
		}
	}

	if !snap.Verdict.OnCampus {
		ok, err := c.confirmer.ConfirmOffCampus(ctx, snap.Verdict.DistanceKm)
		if err != nil {
			return nil, &Failure{Stage: StageLocation, Err: err, Message: "Off-campus confirmation failed."}
		}
		if !ok {
			return nil, &Failure{Stage: StageLocation, Message: "Attendance not marked."}
		}
	}
	return ledger.NewLocationStamp(*snap.Best, *snap.Verdict), nil
}

// publishMarked emits the committed-attendance event for the notification
// worker. Fire and forget: delivery problems never unwind a committed mark.
func (c *Controller) publishMarked(subject users.User, record ledger.Record) {
	if c.events == nil {
		return
	}
	evt := queue.AttendanceMarked{
		UserID:   subject.ID,
		PIN:      subject.PIN,
		Name:     subject.Name,
		Date:     record.Date,
		Time:     record.Timestamp,
		RecordID: record.ID,
	}
	if record.Location != nil {
		evt.LocationStatus = record.Location.Status
		evt.LocationCoordinates = record.Location.Coordinates
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.events.Publish(ctx, queue.Message{Type: queue.TypeAttendanceMarked, Body: body}); err != nil {
			c.logger.Warn().Err(err).Str("record_id", record.ID).Msg("notification publish failed")
		}
	}()
}

func (c *Controller) fail(log zerolog.Logger, f *Failure) (ledger.Record, error) {
	failures.WithLabelValues(string(f.Stage)).Inc()
	log.Warn().Err(f.Err).Str("stage", string(f.Stage)).Str("message", f.Message).Msg("verification attempt failed")
	return ledger.Record{}, f
}

func cameraFailure(err error) *Failure {
	f := &Failure{Stage: StageCamera, Err: err, Message: "An unexpected camera error occurred."}
	var cerr *camera.Error
	if errors.As(err, &cerr) {
		f.Message = cerr.Message()
	}
	return f
}
