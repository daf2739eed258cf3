// Package streamhub tracks the live market-data streams of one process: which
// instruments are streaming, how many events each has delivered and how full
// their channels are. It exists for operability; the streams themselves do not
// depend on it.
package streamhub

import (
	"context"
	"sync"
	"time"

	"flowbridge/logger"
	"flowbridge/models"
)

// StreamStats counts what one stream has delivered so far.
type StreamStats struct {
	Events       int64
	DepthUpdates int64
	Trades       int64
	Disconnects  int64
}

type entry struct {
	events <-chan models.Event
	stats  StreamStats
}

// Hub is the registry of live streams. All methods are safe for concurrent
// use; each consumer goroutine records its own stream's events.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]*entry
	log     *logger.Log
}

func NewHub() *Hub {
	return &Hub{
		streams: make(map[string]*entry),
		log:     logger.GetLogger(),
	}
}

// Register adds a stream under its instrument key. Re-registering a key
// replaces the previous stream and resets its counters.
func (h *Hub) Register(inst models.Instrument, events <-chan models.Event) {
	h.mu.Lock()
	h.streams[inst.Key()] = &entry{events: events}
	h.mu.Unlock()

	h.log.WithComponent("streamhub").WithFields(logger.Fields{
		"stream":     inst.Key(),
		"buffer_cap": cap(events),
	}).Info("stream registered")
}

// Record counts one delivered event against its stream. Unknown streams are
// ignored.
func (h *Hub) Record(inst models.Instrument, ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.streams[inst.Key()]
	if !ok {
		return
	}
	e.stats.Events++
	switch v := ev.(type) {
	case models.DepthReceived:
		e.stats.DepthUpdates++
		e.stats.Trades += int64(len(v.Trades))
	case models.Disconnected:
		e.stats.Disconnects++
	}
}

// Stats returns a copy of the counters for one stream key.
func (h *Hub) Stats(key string) StreamStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if e, ok := h.streams[key]; ok {
		return e.stats
	}
	return StreamStats{}
}

// StartReporting logs a per-stream digest on the given interval until ctx is
// cancelled.
func (h *Hub) StartReporting(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.logStats()
			}
		}
	}()
}

func (h *Hub) logStats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	log := h.log.WithComponent("streamhub")
	for key, e := range h.streams {
		log.WithFields(logger.Fields{
			"stream":        key,
			"events":        e.stats.Events,
			"depth_updates": e.stats.DepthUpdates,
			"trades":        e.stats.Trades,
			"disconnects":   e.stats.Disconnects,
			"channel_len":   len(e.events),
			"channel_cap":   cap(e.events),
		}).Info("stream statistics")
	}
}
