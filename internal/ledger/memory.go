package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps records in memory, keyed by user and date. Used by
// the kiosk when no database is configured, and by tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func key(userID, date string) string { return userID + "|" + date }

// FindForDay returns the record for (userID, date), or nil when absent.
func (r *MemoryRepository) FindForDay(ctx context.Context, userID, date string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key(userID, date)]; ok {
		return &rec, nil
	}
	return nil, nil
}

// Insert writes rec unless the day is already marked.
func (r *MemoryRepository) Insert(ctx context.Context, rec Record) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(rec.UserID, rec.Date)
	if existing, ok := r.records[k]; ok {
		return existing, false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.records[k] = rec
	return rec, true, nil
}

// History returns the user's records, newest first.
func (r *MemoryRepository) History(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Record
	for _, rec := range r.records {
		if rec.UserID == userID {
			res = append(res, rec)
		}
	}
	for i := 0; i < len(res); i++ {
		for j := i + 1; j < len(res); j++ {
			if res[j].Date > res[i].Date {
				res[i], res[j] = res[j], res[i]
			}
		}
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
