package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"miraattend/internal/geofence"
)

// Record is one attendance entry. At most one exists per user per calendar
// day; re-marking returns the original untouched.
type Record struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Date      string         `json:"date"`      // 2006-01-02
	Status    string         `json:"status"`    // always "Present" for verified marks
	Timestamp string         `json:"timestamp"` // 15:04:05 local wall clock of the mark
	Location  *LocationStamp `json:"location,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LocationStamp freezes where the mark happened. Coordinates are rendered at
// four decimal places; the raw reading is not kept.
type LocationStamp struct {
	Status      string  `json:"status"` // "On-Campus" or "Off-Campus"
	Coordinates string  `json:"coordinates"`
	DistanceKm  float64 `json:"distance_km"`
}

// NewLocationStamp renders a geofence verdict into a stamp.
func NewLocationStamp(reading geofence.Reading, verdict geofence.Verdict) *LocationStamp {
	status := "Off-Campus"
	if verdict.OnCampus {
		status = "On-Campus"
	}
	return &LocationStamp{
		Status:      status,
		Coordinates: fmt.Sprintf("%.4f, %.4f", reading.Coordinate.Latitude, reading.Coordinate.Longitude),
		DistanceKm:  verdict.DistanceKm,
	}
}

// Repository persists attendance records.
type Repository interface {
	// FindForDay returns the record for (userID, date), or nil when absent.
	FindForDay(ctx context.Context, userID, date string) (*Record, error)
	// Insert writes rec unless a record for (rec.UserID, rec.Date) already
	// exists; in that case it returns the existing record and inserted=false.
	Insert(ctx context.Context, rec Record) (out Record, inserted bool, err error)
	// History returns the user's records, newest first.
	History(ctx context.Context, userID string, limit int) ([]Record, error)
}

// Ledger is the single write path for attendance. Every mark goes through
// MarkPresent so the one-per-day invariant holds regardless of caller.
type Ledger struct {
	repo   Repository
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a ledger. now defaults to time.Now.
func New(repo Repository, now func() time.Time, logger zerolog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{repo: repo, now: now, logger: logger}
}

// MarkPresent records attendance for today. Idempotent: a second call on the
// same day returns the existing record with created=false and changes
// nothing.
func (l *Ledger) MarkPresent(ctx context.Context, userID string, stamp *LocationStamp) (Record, bool, error) {
	if userID == "" {
		return Record{}, false, errors.New("user id required")
	}

	now := l.now()
	rec := Record{
		UserID:    userID,
		Date:      now.Format("2006-01-02"),
		Status:    "Present",
		Timestamp: now.Format("15:04:05"),
		Location:  stamp,
		CreatedAt: now.UTC(),
	}

	out, inserted, err := l.repo.Insert(ctx, rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("mark attendance: %w", err)
	}
	if !inserted {
		l.logger.Info().Str("user_id", userID).Str("date", rec.Date).Msg("attendance already marked today")
		return out, false, nil
	}
	l.logger.Info().Str("user_id", userID).Str("date", out.Date).Str("record_id", out.ID).Msg("attendance marked")
	return out, true, nil
}

// TodaysRecord returns today's record for the user, or nil when the user has
// not marked attendance yet.
func (l *Ledger) TodaysRecord(ctx context.Context, userID string) (*Record, error) {
	return l.repo.FindForDay(ctx, userID, l.now().Format("2006-01-02"))
}

// History returns the user's records, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Record, error) {
	return l.repo.History(ctx, userID, limit)
}
