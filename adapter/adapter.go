// Package adapter defines the uniform market-data contract implemented once
// per exchange dialect, plus the error taxonomy shared by all of them.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"flowbridge/config"
	"flowbridge/models"
)

// TimeRange bounds a historical request, both ends epoch milliseconds.
type TimeRange struct {
	Start int64
	End   int64
}

// MarketSource is the contract every exchange dialect implements. One-shot
// calls use short-lived connections and share no state with open streams.
type MarketSource interface {
	// Exchange returns the venue tag used in instrument keys and events.
	Exchange() string

	// FetchSymbols discovers the tradable instruments, keyed by symbol.
	// Partial or malformed entries are skipped, not fatal.
	FetchSymbols(ctx context.Context) (map[string]models.Instrument, error)

	// FetchStats returns the current price/statistics per symbol. Dialects
	// whose stats are only available on the live stream return an empty map.
	FetchStats(ctx context.Context) (map[string]models.Stats, error)

	// FetchHistory returns historical candles for one instrument, newest
	// request bounded by an optional time range.
	FetchHistory(ctx context.Context, inst models.Instrument, tf models.Timeframe, rng *TimeRange) ([]models.Kline, error)

	// OpenStream starts the long-running market stream for one instrument.
	// The returned channel is closed when the stream terminates; cancelling
	// ctx is the consumer's way of asking the stream to stop.
	OpenStream(ctx context.Context, inst models.Instrument) (<-chan models.Event, error)
}

// Factory builds a MarketSource from connection and stream settings.
type Factory func(conn config.Connection, stream config.StreamConfig) (MarketSource, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register installs a dialect factory under its exchange name. Dialect
// packages call this from init.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// New builds the MarketSource for the named exchange.
func New(name string, conn config.Connection, stream config.StreamConfig) (MarketSource, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q (registered: %v)", name, Exchanges())
	}
	return f(conn, stream)
}

// Exchanges lists the registered dialect names, sorted.
func Exchanges() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
