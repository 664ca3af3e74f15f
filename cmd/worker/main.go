package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"miraattend/internal/config"
	"miraattend/internal/notify"
	"miraattend/internal/queue"
	"miraattend/internal/store"
	"miraattend/internal/users"
)

// Worker consumes committed-attendance events and delivers the email and
// WhatsApp notifications.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	var email notify.Notifier
	if cfg.SMTPMail != "" {
		email = notify.NewEmailNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPMail, cfg.SMTPPassword)
	} else {
		logger.Warn().Msg("SMTP not configured, email notifications disabled")
	}

	var texts notify.TextSender
	if cfg.WhatsAppDSN != "" {
		wa, err := notify.NewWhatsAppNotifier(ctx, cfg.WhatsAppDSN)
		if err != nil {
			logger.Error().Err(err).Msg("whatsapp connect failed, text notifications disabled")
		} else {
			defer wa.Disconnect()
			texts = wa
		}
	}

	dispatcher := notify.NewDispatcher(users.NewPostgresDirectory(db.Client), email, texts, logger)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue consume init failed")
	}

	logger.Info().Msg("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceMarked {
			continue
		}

		var evt queue.AttendanceMarked
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			logger.Error().Err(err).Msg("bad message body")
			continue
		}

		logger.Info().Str("record_id", evt.RecordID).Str("user_id", evt.UserID).Msg("dispatching notifications")
		dispatcher.DispatchMarked(ctx, evt)
	}

	logger.Info().Msg("worker stopped")
}
