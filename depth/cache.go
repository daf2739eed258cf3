// Package depth maintains the reconstructed order book for one stream.
//
// A Cache is owned exclusively by the stream goroutine that feeds it; it is
// never written from two goroutines. Consumers only ever see the immutable
// snapshots produced by Snapshot.
package depth

import (
	"sort"
	"time"

	"flowbridge/models"
)

// UpdateKind selects how an Update mutates the book.
type UpdateKind int

const (
	// Snapshot replaces both sides of the book.
	Snapshot UpdateKind = iota
	// Delta upserts individual levels; a zero quantity removes the level.
	Delta
)

// Update is one inbound book mutation, already converted to canonical levels.
type Update struct {
	Kind     UpdateKind
	UpdateID uint64
	Time     int64
	Bids     []models.DepthLevel
	Asks     []models.DepthLevel
}

// Cache is the reconstructed book for a single instrument on a single stream.
type Cache struct {
	bids map[float64]float64
	asks map[float64]float64

	lastUpdateID uint64
	lastTime     int64
	hasSnapshot  bool
}

// NewCache returns an empty cache. The first applied update must be a
// snapshot; deltas arriving before one are discarded.
func NewCache() *Cache {
	return &Cache{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

// Apply mutates the book with one update. Once a snapshot has been applied,
// updates whose ID is not strictly greater than the last applied one are
// dropped, which tolerates duplicate or out-of-order delivery without
// corrupting state. It reports whether the update was applied.
func (c *Cache) Apply(u Update) bool {
	if c.hasSnapshot && u.UpdateID <= c.lastUpdateID {
		return false
	}
	switch u.Kind {
	case Snapshot:
		c.bids = make(map[float64]float64, len(u.Bids))
		c.asks = make(map[float64]float64, len(u.Asks))
		for _, l := range u.Bids {
			if l.Qty > 0 {
				c.bids[l.Price] = l.Qty
			}
		}
		for _, l := range u.Asks {
			if l.Qty > 0 {
				c.asks[l.Price] = l.Qty
			}
		}
		c.hasSnapshot = true
	case Delta:
		if !c.hasSnapshot {
			return false
		}
		applySide(c.bids, u.Bids)
		applySide(c.asks, u.Asks)
	default:
		return false
	}
	c.lastUpdateID = u.UpdateID
	c.lastTime = u.Time
	return true
}

func applySide(side map[float64]float64, levels []models.DepthLevel) {
	for _, l := range levels {
		if l.Qty == 0 {
			delete(side, l.Price)
			continue
		}
		side[l.Price] = l.Qty
	}
}

// LastUpdateID returns the identifier of the last applied update.
func (c *Cache) LastUpdateID() uint64 { return c.lastUpdateID }

// LastTime returns the epoch-ms timestamp of the last applied update.
func (c *Cache) LastTime() int64 { return c.lastTime }

// IsStale reports whether no update has been applied within maxAge. A stale
// book signals a degraded feed; it is reported, not fatal.
func (c *Cache) IsStale(now time.Time, maxAge time.Duration) bool {
	if c.lastTime == 0 {
		return true
	}
	return now.Sub(time.UnixMilli(c.lastTime)) > maxAge
}

// Snapshot returns a freshly allocated, sorted, immutable view of the book:
// bids descending, asks ascending. The returned value shares no memory with
// the cache and is safe to hand to any number of readers.
func (c *Cache) Snapshot() *models.DepthSnapshot {
	snap := &models.DepthSnapshot{
		Bids:         collectSide(c.bids),
		Asks:         collectSide(c.asks),
		LastUpdateID: c.lastUpdateID,
		Time:         c.lastTime,
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}

func collectSide(side map[float64]float64) []models.DepthLevel {
	levels := make([]models.DepthLevel, 0, len(side))
	for price, qty := range side {
		levels = append(levels, models.DepthLevel{Price: price, Qty: qty})
	}
	return levels
}
