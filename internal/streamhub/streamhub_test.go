package streamhub

import (
	"context"
	"testing"
	"time"

	"flowbridge/models"
)

var inst = models.Instrument{Symbol: "EURUSD", Exchange: "mt5", TickSize: 0.0001}

func TestRecordCountsByEventKind(t *testing.T) {
	h := NewHub()
	events := make(chan models.Event, 4)
	h.Register(inst, events)

	h.Record(inst, models.Connected{Exchange: "mt5"})
	h.Record(inst, models.DepthReceived{
		Instrument: inst,
		Depth:      &models.DepthSnapshot{},
		Trades:     []models.Trade{{}, {}, {}},
	})
	h.Record(inst, models.Disconnected{Exchange: "mt5", Reason: "test"})

	stats := h.Stats(inst.Key())
	if stats.Events != 3 {
		t.Fatalf("expected 3 events, got %d", stats.Events)
	}
	if stats.DepthUpdates != 1 || stats.Trades != 3 || stats.Disconnects != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRecordUnknownStreamIgnored(t *testing.T) {
	h := NewHub()
	h.Record(inst, models.Connected{Exchange: "mt5"})
	if stats := h.Stats(inst.Key()); stats.Events != 0 {
		t.Fatalf("unregistered stream must not accumulate stats: %+v", stats)
	}
}

func TestReRegisterResetsCounters(t *testing.T) {
	h := NewHub()
	events := make(chan models.Event, 1)
	h.Register(inst, events)
	h.Record(inst, models.Connected{Exchange: "mt5"})

	h.Register(inst, events)
	if stats := h.Stats(inst.Key()); stats.Events != 0 {
		t.Fatalf("re-registration must reset counters: %+v", stats)
	}
}

func TestStartReportingStopsOnCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	h.StartReporting(ctx, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	cancel()
	// Nothing to assert beyond not panicking or leaking; the reporter exits
	// on cancellation.
	time.Sleep(15 * time.Millisecond)
}
