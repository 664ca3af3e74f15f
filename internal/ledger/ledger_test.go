package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miraattend/internal/geofence"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLedger_MarkPresentIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	l := New(NewMemoryRepository(), fixedClock(now), zerolog.Nop())

	first, created, err := l.MarkPresent(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "2026-03-02", first.Date)
	assert.Equal(t, "09:15:00", first.Timestamp)
	assert.Equal(t, "Present", first.Status)

	second, created, err := l.MarkPresent(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Timestamp, second.Timestamp)
}

func TestLedger_SeparateDaysSeparateRecords(t *testing.T) {
	repo := NewMemoryRepository()
	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	l := New(repo, fixedClock(day1), zerolog.Nop())
	r1, created, err := l.MarkPresent(context.Background(), "u1", nil)
	require.NoError(t, err)
	require.True(t, created)

	l = New(repo, fixedClock(day1.AddDate(0, 0, 1)), zerolog.Nop())
	r2, created, err := l.MarkPresent(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, r1.ID, r2.ID)
}

func TestLedger_ConcurrentMarksProduceOneRecord(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := New(NewMemoryRepository(), fixedClock(now), zerolog.Nop())

	var wg sync.WaitGroup
	ids := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, _, err := l.MarkPresent(context.Background(), "u1", nil)
			require.NoError(t, err)
			ids <- rec.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestLedger_LocationStamp(t *testing.T) {
	reading := geofence.Reading{
		Coordinate:     geofence.Coordinate{Latitude: 18.4550, Longitude: 79.5217},
		AccuracyMeters: 30,
	}
	fence := geofence.Fence{Center: geofence.Coordinate{Latitude: 18.4550, Longitude: 79.5217}, RadiusKm: 0.5}

	stamp := NewLocationStamp(reading, fence.Evaluate(reading.Coordinate))
	assert.Equal(t, "On-Campus", stamp.Status)
	assert.Equal(t, "18.4550, 79.5217", stamp.Coordinates)

	far := geofence.Coordinate{Latitude: 18.4650, Longitude: 79.5217}
	stamp = NewLocationStamp(geofence.Reading{Coordinate: far}, fence.Evaluate(far))
	assert.Equal(t, "Off-Campus", stamp.Status)
	assert.Greater(t, stamp.DistanceKm, 0.5)
}

func TestLedger_TodaysRecord(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := New(NewMemoryRepository(), fixedClock(now), zerolog.Nop())

	rec, err := l.TodaysRecord(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, _, err = l.MarkPresent(context.Background(), "u1", nil)
	require.NoError(t, err)

	rec, err = l.TodaysRecord(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2026-03-02", rec.Date)
}
