package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"miraattend/internal/auth"
	"miraattend/internal/camera"
	"miraattend/internal/cloudinary"
	"miraattend/internal/config"
	"miraattend/internal/faceverify"
	"miraattend/internal/geofence"
	"miraattend/internal/httpmiddleware"
	"miraattend/internal/ledger"
	"miraattend/internal/liveness"
	"miraattend/internal/location"
	"miraattend/internal/queue"
	"miraattend/internal/store"
	"miraattend/internal/users"
	"miraattend/internal/verification"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

type server struct {
	cfg       config.App
	logger    zerolog.Logger
	directory users.Directory
	ledger    *ledger.Ledger
	oracle    faceverify.Oracle
	events    queue.Queue
	cdn       *cloudinary.Client
}

func runHTTP(cfg config.App, logger zerolog.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Warn().Err(err).Msg("db not reachable, using in-memory stores")
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	var directory users.Directory
	var repo ledger.Repository
	if db != nil {
		if err := db.Migrate(context.Background()); err != nil {
			return err
		}
		directory = users.NewPostgresDirectory(db.Client)
		repo = ledger.NewPostgresRepository(db.Client)
	} else {
		directory = users.NewMemoryDirectory()
		repo = ledger.NewMemoryRepository()
	}
	led := ledger.New(repo, nil, logger)

	redisClient := store.NewRedis(cfg.RedisAddr)
	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	var oracle faceverify.Oracle
	if cfg.GeminiAPIKey != "" {
		g, err := faceverify.NewGeminiOracle(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return err
		}
		defer g.Close()
		oracle = g
	} else {
		logger.Warn().Bool("skip", cfg.FaceSkip).Msg("no Gemini key, using face service oracle")
		oracle = faceverify.NewHTTPOracle(cfg.FaceServiceURL, cfg.FaceSkip)
	}

	var cdn *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdn = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info().Str("cloud", cfg.CloudinaryCloudName).Msg("cloudinary configured")
	} else {
		logger.Warn().Msg("cloudinary not configured, reference uploads disabled")
	}

	s := &server{cfg: cfg, logger: logger, directory: directory, ledger: led, oracle: oracle, events: q, cdn: cdn}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{SkipPaths: []string{"/healthz", "/metrics"}}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/operators/register", s.registerOperator)

	authGroup := r.Group("/v1", auth.OperatorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	authGroup.GET("/students/:pin", s.getStudent)
	authGroup.GET("/students/:pin/history", s.getHistory)
	authGroup.POST("/students/:pin/reference", s.uploadReference)
	authGroup.POST("/attendance/verify", s.verifyAttendance)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced shutdown")
	}
	return nil
}

func (s *server) registerOperator(c *gin.Context) {
	var req struct {
		OperatorID string `json:"operator_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := auth.Issue(req.OperatorID, "operator", s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *server) getStudent(c *gin.Context) {
	ctrl := s.controller(nil, nil, nil)
	prep, err := ctrl.Prepare(c.Request.Context(), c.Param("pin"))
	if err != nil {
		var f *verification.Failure
		if errors.As(err, &f) && f.Stage == verification.StageLookup {
			c.JSON(http.StatusNotFound, gin.H{"error": f.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"student":           prep.Subject,
		"already_marked":    prep.AlreadyMarked,
		"missing_reference": prep.MissingReference,
	})
}

func (s *server) getHistory(c *gin.Context) {
	user, err := s.directory.ByPIN(c.Request.Context(), c.Param("pin"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	records, err := s.ledger.History(c.Request.Context(), user.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *server) uploadReference(c *gin.Context) {
	if s.cdn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	user, err := s.directory.ByPIN(c.Request.Context(), c.Param("pin"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	var result *cloudinary.UploadResult
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, ferr := io.ReadAll(file)
		if ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		result, err = s.cdn.UploadBytes(data, header.Filename)
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
			return
		}
		result, err = s.cdn.UploadBase64(body.Data)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("cloudinary upload failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}

	if err := s.directory.SetReferenceImage(c.Request.Context(), user.ID, result.SecureURL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "saving reference image failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": result.SecureURL, "public_id": result.PublicID})
}

type verifyRequest struct {
	PIN              string   `json:"pin" binding:"required"`
	Image            string   `json:"image" binding:"required"` // base64 data URL
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	AccuracyMeters   *float64 `json:"accuracy_m"`
	ConfirmOffCampus bool     `json:"confirm_off_campus"`
}

// apiConfirmer answers the off-campus question from the request flag. When
// the flag is absent the controller fails the attempt and the handler turns
// that into a confirmation challenge for the client.
type apiConfirmer struct {
	allowed bool
	asked   bool
	dist    float64
}

func (a *apiConfirmer) ConfirmOffCampus(ctx context.Context, distanceKm float64) (bool, error) {
	a.asked = true
	a.dist = distanceKm
	return a.allowed, nil
}

func (s *server) verifyAttendance(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	confirmer := &apiConfirmer{allowed: req.ConfirmOffCampus}
	ctrl := s.controller(frameDevice(c.Request.Context(), req.Image), providerFrom(req), confirmer)

	prep, err := ctrl.Prepare(c.Request.Context(), req.PIN)
	if err != nil {
		var f *verification.Failure
		if errors.As(err, &f) && f.Stage == verification.StageLookup {
			c.JSON(http.StatusNotFound, gin.H{"error": f.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if prep.AlreadyMarked != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Attendance already marked for this student today.",
			"record": prep.AlreadyMarked,
		})
		return
	}
	if prep.MissingReference {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "No reference image on file for this student."})
		return
	}

	record, err := ctrl.Verify(c.Request.Context(), prep.Subject, nil)
	if err != nil {
		if confirmer.asked && !confirmer.allowed {
			c.JSON(http.StatusConflict, gin.H{
				"confirmation_required": true,
				"distance_km":           confirmer.dist,
				"message":               "You appear to be off-campus. Are you sure you want to proceed?",
			})
			return
		}
		var f *verification.Failure
		if errors.As(err, &f) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": f.Message, "stage": string(f.Stage)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": record})
}

// controller builds a per-request controller. The API path uses a zero-delay
// liveness gate: the client performed the liveness interaction before
// submitting the capture.
func (s *server) controller(device camera.Device, provider location.Provider, confirmer verification.Confirmer) *verification.Controller {
	if device == nil {
		device = &camera.FrameDevice{}
	}
	if provider == nil {
		provider = &location.StaticProvider{}
	}
	if confirmer == nil {
		confirmer = &apiConfirmer{}
	}
	return verification.New(
		s.directory, s.ledger, s.oracle, device, provider,
		liveness.TimerDetector{Wait: 0}, confirmer, s.events,
		s.verifyConfig(), s.logger,
	)
}

func (s *server) verifyConfig() verification.Config {
	return verification.Config{
		Fence: geofence.Fence{
			Center:   geofence.Coordinate{Latitude: s.cfg.CampusLat, Longitude: s.cfg.CampusLon},
			RadiusKm: s.cfg.CampusRadiusKm,
		},
		AccuracyMeters:  s.cfg.LocationAccuracyMeters,
		LocationTimeout: s.cfg.LocationTimeout,
		Camera:          camera.Constraints{Width: s.cfg.CameraWidth, Height: s.cfg.CameraHeight},
		Contrast:        s.cfg.ContrastLevel,
	}
}

// frameDevice decodes the submitted photo into a single-frame device.
func frameDevice(ctx context.Context, dataURL string) camera.Device {
	img, err := faceverify.FetchImage(ctx, dataURL)
	if err != nil {
		return &camera.FrameDevice{}
	}
	frame, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return &camera.FrameDevice{}
	}
	return &camera.FrameDevice{Frame: frame}
}

// providerFrom wraps the client-supplied fix, when present, as a one-shot
// provider. A fix without coordinates or a reported accuracy leaves the
// provider silent and the session times out, which keeps the fail-closed
// policy server-side: a client cannot pass the accuracy gate by omitting
// the field.
func providerFrom(req verifyRequest) location.Provider {
	if req.Latitude == nil || req.Longitude == nil || req.AccuracyMeters == nil {
		return &location.StaticProvider{}
	}
	return &location.StaticProvider{Updates: []location.Update{{
		Reading: geofence.Reading{
			Coordinate:     geofence.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
			AccuracyMeters: *req.AccuracyMeters,
			CapturedAt:     time.Now(),
		},
	}}}
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
