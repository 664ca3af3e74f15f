package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis holds the client shared by the attendance-event queue producers and
// the worker consumer.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects with short timeouts. Queue pushes happen on the
// verification commit path, so a hung Redis must fail fast rather than
// stall an attempt.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy reports whether the queue backend is reachable. The API's healthz
// endpoint degrades to 503 when it is not.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
