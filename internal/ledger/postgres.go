package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// PostgresRepository persists attendance records in Postgres. The unique
// (user_id, date) index is the arbiter for concurrent marks.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindForDay returns the record for (userID, date), or nil when absent.
func (r *PostgresRepository) FindForDay(ctx context.Context, userID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, status, time_of_day, loc_status, loc_coordinates, loc_distance_km, created_at
		FROM attendance_records
		WHERE user_id = $1 AND date = $2
	`, userID, date)
	return scanRecord(row)
}

// Insert writes rec unless the day is already marked. ON CONFLICT DO NOTHING
// plus a re-read makes concurrent duplicate marks converge on one row.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var locStatus, locCoordinates *string
	var locDistance *float64
	if rec.Location != nil {
		locStatus = &rec.Location.Status
		locCoordinates = &rec.Location.Coordinates
		locDistance = &rec.Location.DistanceKm
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, user_id, date, status, time_of_day, loc_status, loc_coordinates, loc_distance_km, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (user_id, date) DO NOTHING
	`, rec.ID, rec.UserID, rec.Date, rec.Status, rec.Timestamp, locStatus, locCoordinates, locDistance, rec.CreatedAt)
	if err != nil {
		return Record{}, false, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		existing, err := r.FindForDay(ctx, rec.UserID, rec.Date)
		if err != nil {
			return Record{}, false, err
		}
		if existing == nil {
			return Record{}, false, errors.New("attendance record vanished after conflict")
		}
		return *existing, false, nil
	}
	return rec, true, nil
}

// History returns the user's records, newest first.
func (r *PostgresRepository) History(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, date, status, time_of_day, loc_status, loc_coordinates, loc_distance_km, created_at
		FROM attendance_records
		WHERE user_id = $1
		ORDER BY date DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var locStatus, locCoordinates *string
	var locDistance *float64
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Date, &rec.Status, &rec.Timestamp,
		&locStatus, &locCoordinates, &locDistance, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if locStatus != nil {
		rec.Location = &LocationStamp{Status: *locStatus}
		if locCoordinates != nil {
			rec.Location.Coordinates = *locCoordinates
		}
		if locDistance != nil {
			rec.Location.DistanceKm = *locDistance
		}
	}
	return &rec, nil
}
