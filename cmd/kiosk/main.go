package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"miraattend/internal/camera"
	"miraattend/internal/config"
	"miraattend/internal/faceverify"
	"miraattend/internal/geofence"
	"miraattend/internal/ledger"
	"miraattend/internal/liveness"
	"miraattend/internal/location"
	"miraattend/internal/queue"
	"miraattend/internal/store"
	"miraattend/internal/users"
	"miraattend/internal/verification"
)

// Kiosk runs the verification loop on a device with a camera and a location
// source: type a PIN, look at the camera, blink, done.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("service", "kiosk").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	in := bufio.NewReader(os.Stdin)
	ctrl, cleanup, err := buildController(ctx, cfg, logger, in)
	if err != nil {
		logger.Fatal().Err(err).Msg("kiosk setup failed")
	}
	defer cleanup()

	runLoop(ctx, ctrl, logger, in)
}

func buildController(ctx context.Context, cfg config.App, logger zerolog.Logger, in *bufio.Reader) (*verification.Controller, func(), error) {
	cleanup := func() {}

	var directory users.Directory
	var repo ledger.Repository
	var events queue.Queue
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Warn().Err(err).Msg("db not reachable, running with in-memory stores")
		directory = demoDirectory()
		repo = ledger.NewMemoryRepository()
		events = queue.NewInMemory(64)
	} else {
		if err := db.Migrate(ctx); err != nil {
			return nil, cleanup, err
		}
		directory = users.NewPostgresDirectory(db.Client)
		repo = ledger.NewPostgresRepository(db.Client)
		redisClient := store.NewRedis(cfg.RedisAddr)
		events = queue.NewRedisQueue(redisClient.Client, "")
		cleanup = func() { _ = db.Close() }
	}
	led := ledger.New(repo, nil, logger)

	var oracle faceverify.Oracle
	if cfg.GeminiAPIKey != "" {
		g, err := faceverify.NewGeminiOracle(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return nil, cleanup, err
		}
		prev := cleanup
		cleanup = func() { _ = g.Close(); prev() }
		oracle = g
	} else {
		oracle = faceverify.NewHTTPOracle(cfg.FaceServiceURL, cfg.FaceSkip)
	}

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}

	framePath := os.Getenv("KIOSK_CAMERA_FILE")
	if framePath == "" {
		return nil, cleanup, errors.New("KIOSK_CAMERA_FILE must point at the camera frame source")
	}
	device := &camera.FileDevice{Path: framePath}

	vcfg := verification.Config{
		Fence: geofence.Fence{
			Center:   geofence.Coordinate{Latitude: cfg.CampusLat, Longitude: cfg.CampusLon},
			RadiusKm: cfg.CampusRadiusKm,
		},
		AccuracyMeters:  cfg.LocationAccuracyMeters,
		LocationTimeout: cfg.LocationTimeout,
		Camera:          camera.Constraints{Width: cfg.CameraWidth, Height: cfg.CameraHeight},
		Contrast:        cfg.ContrastLevel,
		LivenessSettle:  cfg.LivenessSettle,
	}

	ctrl := verification.New(
		directory, led, oracle, device, provider,
		liveness.TimerDetector{Wait: cfg.LivenessBlinkWait},
		&stdinConfirmer{in: in},
		events, vcfg, logger,
	)
	return ctrl, cleanup, nil
}

// buildProvider picks the location source: serial GPS when a port is
// configured, Google geolocation when only an API key is, otherwise a
// simulated on-campus fix.
func buildProvider(cfg config.App, logger zerolog.Logger) (location.Provider, error) {
	if cfg.GPSSerialPort != "" {
		logger.Info().Str("port", cfg.GPSSerialPort).Msg("using serial GPS")
		return location.NewNMEAProvider(cfg.GPSSerialPort, cfg.GPSBaudRate), nil
	}
	if cfg.GoogleMapsAPIKey != "" {
		logger.Info().Msg("using Google geolocation")
		return location.NewGoogleProvider(cfg.GoogleMapsAPIKey, 2*time.Second)
	}
	logger.Warn().Msg("no location source configured, simulating an on-campus fix")
	return &location.StaticProvider{
		Interval: 200 * time.Millisecond,
		Updates: []location.Update{{
			Reading: geofence.Reading{
				Coordinate:     geofence.Coordinate{Latitude: cfg.CampusLat, Longitude: cfg.CampusLon},
				AccuracyMeters: 30,
				CapturedAt:     time.Now(),
			},
		}},
	}, nil
}

func runLoop(ctx context.Context, ctrl *verification.Controller, logger zerolog.Logger, in *bufio.Reader) {
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Print("PIN: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		pin := strings.TrimSpace(line)
		if pin == "" {
			continue
		}

		prep, err := ctrl.Prepare(ctx, pin)
		if err != nil {
			var f *verification.Failure
			if errors.As(err, &f) {
				fmt.Println(f.Message)
			} else {
				fmt.Println("Lookup failed, try again.")
			}
			continue
		}
		if prep.AlreadyMarked != nil {
			fmt.Println("Attendance already marked for this student today.")
			continue
		}
		if prep.MissingReference {
			fmt.Printf("No reference image on file for %s.\n", prep.Subject.Name)
			continue
		}

		fmt.Printf("Verifying %s, look at the camera.\n", prep.Subject.Name)
		record, err := ctrl.Verify(ctx, prep.Subject, func(s liveness.State) {
			switch s {
			case liveness.Aligning:
				fmt.Println("Hold still...")
			case liveness.AwaitingBlink:
				fmt.Println("Blink now.")
			case liveness.Capturing:
				fmt.Println("Captured, verifying...")
			}
		})
		if err != nil {
			var f *verification.Failure
			if errors.As(err, &f) {
				fmt.Println(f.Message)
			} else {
				fmt.Println("Verification failed, try again.")
			}
			continue
		}

		loc := "N/A"
		if record.Location != nil {
			loc = fmt.Sprintf("%s (%s)", record.Location.Status, record.Location.Coordinates)
		}
		fmt.Printf("Attendance Marked for %s! %s at %s, %s\n", prep.Subject.Name, record.Date, record.Timestamp, loc)
		logger.Info().Str("record_id", record.ID).Msg("attendance marked")
	}
}

// stdinConfirmer shows the off-campus prompt on the kiosk console.
type stdinConfirmer struct {
	in *bufio.Reader
}

func (c *stdinConfirmer) ConfirmOffCampus(ctx context.Context, distanceKm float64) (bool, error) {
	fmt.Printf("You appear to be off-campus (%.2f km from campus). Are you sure you want to proceed? [y/N]: ", distanceKm)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// demoDirectory seeds a small roster so the kiosk works without a database.
func demoDirectory() *users.MemoryDirectory {
	return users.NewMemoryDirectory(
		users.User{ID: "stu-1001", PIN: "1001", Name: "Asha Rao", Role: "student", Branch: "CSE"},
		users.User{ID: "stu-1002", PIN: "1002", Name: "Vikram Singh", Role: "student", Branch: "ECE"},
	)
}
