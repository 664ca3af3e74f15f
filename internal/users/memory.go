package users

import (
	"context"
	"sync"
)

// MemoryDirectory holds a fixed roster in memory. Used by the kiosk when no
// database is configured, and by tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	byID  map[string]User
	byPIN map[string]string
}

// NewMemoryDirectory creates a directory seeded with the given roster.
func NewMemoryDirectory(roster ...User) *MemoryDirectory {
	d := &MemoryDirectory{byID: make(map[string]User), byPIN: make(map[string]string)}
	for _, u := range roster {
		d.byID[u.ID] = u
		d.byPIN[u.PIN] = u.ID
	}
	return d
}

// ByPIN returns the user with the given PIN.
func (d *MemoryDirectory) ByPIN(ctx context.Context, pin string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byPIN[pin]
	if !ok {
		return User{}, ErrNotFound
	}
	return d.byID[id], nil
}

// ByID returns the user with the given id.
func (d *MemoryDirectory) ByID(ctx context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// SetReferenceImage updates the stored reference photo URL.
func (d *MemoryDirectory) SetReferenceImage(ctx context.Context, id, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.ReferenceImageURL = url
	d.byID[id] = u
	return nil
}
