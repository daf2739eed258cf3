package mt5

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"flowbridge/adapter"
	"flowbridge/models"
)

func TestFetchSymbols(t *testing.T) {
	srv := mockProxy(t, func(ws *websocket.Conn) {
		var req symbolsRequest
		if err := ws.ReadJSON(&req); err != nil || req.Type != frameGetSymbols {
			t.Errorf("unexpected symbols request: %+v err=%v", req, err)
			return
		}
		// A frame of unknown type before the answer must be skipped.
		ws.WriteJSON(map[string]interface{}{"type": "notice", "text": "hello"})
		ws.WriteJSON(map[string]interface{}{
			"type": "symbols",
			"data": []map[string]interface{}{
				{"symbol": "EURUSD", "tick_size": 0.0001, "min_lot": 0.01, "contract_size": 100000, "digits": 5},
				{"symbol": "XAUUSD", "tick_size": 0.01, "min_lot": 0.01, "contract_size": 100, "digits": 2},
				{"symbol": "", "tick_size": 0.1}, // malformed, must be skipped
			},
		})
	})

	src := New(testConnection(srv), testStreamConfig())
	symbols, err := src.FetchSymbols(context.Background())
	if err != nil {
		t.Fatalf("FetchSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(symbols))
	}
	eurusd, ok := symbols["EURUSD"]
	if !ok {
		t.Fatal("EURUSD missing")
	}
	if eurusd.Exchange != exchangeName || eurusd.TickSize != 0.0001 || eurusd.ContractSize != 100000 {
		t.Fatalf("unexpected instrument: %+v", eurusd)
	}
}

func TestFetchSymbolsAuthFailure(t *testing.T) {
	srv := mockProxy(t, nil)

	conn := testConnection(srv)
	conn.APISecret = "wrong_secret"
	src := New(conn, testStreamConfig())

	_, err := src.FetchSymbols(context.Background())
	var authErr *adapter.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestFetchHistory(t *testing.T) {
	srv := mockProxy(t, func(ws *websocket.Conn) {
		var req klinesRequest
		if err := ws.ReadJSON(&req); err != nil {
			t.Errorf("read klines request: %v", err)
			return
		}
		if req.Type != frameGetKlines || req.Symbol != "EURUSD" || req.Timeframe != "H1" {
			t.Errorf("unexpected klines request: %+v", req)
		}
		if req.Limit != historyLimit {
			t.Errorf("unexpected limit: %d", req.Limit)
		}
		if req.Start == nil || *req.Start != 1700000000000 || req.End == nil {
			t.Errorf("time range not forwarded: %+v", req)
		}
		ws.WriteJSON(map[string]interface{}{
			"type": "klines",
			"data": []map[string]interface{}{
				{"time": 1700000000000, "open": 1.1, "high": 1.2, "low": 1.0, "close": 1.15, "volume": 10.0},
			},
		})
	})

	src := New(testConnection(srv), testStreamConfig())
	rng := &adapter.TimeRange{Start: 1700000000000, End: 1700003600000}
	klines, err := src.FetchHistory(context.Background(), testInstrument, models.H1, rng)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("expected 1 kline, got %d", len(klines))
	}
	if klines[0].BuyVolume != 5 || klines[0].SellVolume != 5 {
		t.Fatalf("aggregate volume not split 50/50: %+v", klines[0])
	}
}

func TestFetchHistoryMalformedResponseIsFatal(t *testing.T) {
	srv := mockProxy(t, func(ws *websocket.Conn) {
		var req klinesRequest
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		ws.WriteJSON(map[string]interface{}{"type": "klines", "data": "not an array"})
	})

	src := New(testConnection(srv), testStreamConfig())
	_, err := src.FetchHistory(context.Background(), testInstrument, models.M1, nil)
	var parseErr *adapter.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError for malformed sync response, got %v", err)
	}
}

func TestFetchStatsEmptyByDesign(t *testing.T) {
	src := New(testConnection(mockProxy(t, nil)), testStreamConfig())
	stats, err := src.FetchStats(context.Background())
	if err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("stats must be empty in this dialect, got %d entries", len(stats))
	}
}

func TestFetchSymbolsConnectFailure(t *testing.T) {
	conn := testConnection(mockProxy(t, nil))
	conn.Address = "127.0.0.1:1" // nothing listens here
	conn.TimeoutSecs = 1
	src := New(conn, testStreamConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := src.FetchSymbols(ctx)
	var transportErr *adapter.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestAdapterRegistry(t *testing.T) {
	srv := mockProxy(t, nil)
	src, err := adapter.New(exchangeName, testConnection(srv), testStreamConfig())
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if src.Exchange() != exchangeName {
		t.Fatalf("unexpected exchange: %s", src.Exchange())
	}

	if _, err := adapter.New("no_such_venue", testConnection(srv), testStreamConfig()); err == nil {
		t.Fatal("expected error for unknown exchange")
	}
}
