package adapter

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"flowbridge/models"
)

// NewReconnectBackoff returns the reconnect delay policy shared by all
// dialects: one second doubling per consecutive failure, capped at sixty
// seconds. A fresh instance is created per OpenStream call and never reset
// while that stream lives.
func NewReconnectBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    time.Second,
		Max:    60 * time.Second,
		Factor: 2,
	}
}

// Emit performs a blocking send on a stream's bounded event channel, with a
// cancellation escape. A full channel suspends the caller, which is the
// backpressure mechanism. It reports false when the consumer has gone away.
func Emit(ctx context.Context, out chan<- models.Event, ev models.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
