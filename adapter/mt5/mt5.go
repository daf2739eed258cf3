// Package mt5 implements the market-data contract against the MT5 proxy
// dialect: a websocket JSON protocol with signed authentication, a combined
// trade+depth stream, and request/response exchanges for symbol discovery and
// historical candles.
package mt5

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"flowbridge/adapter"
	"flowbridge/config"
	"flowbridge/logger"
	"flowbridge/models"
)

const (
	exchangeName = "mt5"
	// pathSuffix is the client endpoint on the proxy server.
	pathSuffix = "/client"
	// historyLimit caps one get_klines response.
	historyLimit = 500
)

// Source is the MT5 dialect of the market-data contract.
type Source struct {
	conn   config.Connection
	stream config.StreamConfig
	log    *logger.Log
}

func init() {
	adapter.Register(exchangeName, func(conn config.Connection, stream config.StreamConfig) (adapter.MarketSource, error) {
		return New(conn, stream), nil
	})
}

// New builds an MT5 market source. The configuration is validated lazily, on
// each operation, so a Source can be constructed before credentials exist.
func New(conn config.Connection, stream config.StreamConfig) *Source {
	return &Source{
		conn:   conn,
		stream: stream,
		log:    logger.GetLogger(),
	}
}

// Exchange returns the venue tag.
func (s *Source) Exchange() string { return exchangeName }

// FetchSymbols opens a short-lived authenticated connection, requests the
// symbol list and converts each entry. Malformed entries are skipped.
func (s *Source) FetchSymbols(ctx context.Context) (map[string]models.Instrument, error) {
	log := s.log.WithComponent("mt5_symbols")

	ws, err := s.dialAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(ws)

	var resp symbolsResponse
	if err := s.request(ws, symbolsRequest{Type: frameGetSymbols}, &resp, "symbols"); err != nil {
		return nil, err
	}

	result := make(map[string]models.Instrument, len(resp.Data))
	for _, entry := range resp.Data {
		inst, err := toInstrument(entry)
		if err != nil {
			log.WithError(err).Warn("skipping symbol entry")
			continue
		}
		result[inst.Symbol] = inst
	}

	log.WithFields(logger.Fields{"count": len(result)}).Info("symbols fetched")
	return result, nil
}

// FetchStats returns an empty map: in this dialect prices and statistics are
// sourced exclusively from the live stream, and downstream consumers rely on
// that. This is documented behavior, not a missing feature.
func (s *Source) FetchStats(ctx context.Context) (map[string]models.Stats, error) {
	return map[string]models.Stats{}, nil
}

// FetchHistory opens a short-lived authenticated connection and requests up
// to historyLimit candles, optionally bounded by a time range.
func (s *Source) FetchHistory(ctx context.Context, inst models.Instrument, tf models.Timeframe, rng *adapter.TimeRange) ([]models.Kline, error) {
	log := s.log.WithComponent("mt5_history").WithFields(logger.Fields{
		"symbol":    inst.Symbol,
		"timeframe": tf.Code(),
	})

	ws, err := s.dialAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(ws)

	req := klinesRequest{
		Type:      frameGetKlines,
		Symbol:    inst.Symbol,
		Timeframe: tf.Code(),
		Limit:     historyLimit,
	}
	if rng != nil {
		req.Start = &rng.Start
		req.End = &rng.End
	}

	var resp klinesResponse
	if err := s.request(ws, req, &resp, "klines"); err != nil {
		return nil, err
	}

	klines := make([]models.Kline, 0, len(resp.Data))
	for _, k := range resp.Data {
		klines = append(klines, toKline(k, inst))
	}

	log.WithFields(logger.Fields{"count": len(klines)}).Info("history fetched")
	return klines, nil
}

// dialAuthenticated opens a fresh connection and completes the auth exchange.
// Used by the one-shot operations; streams carry their own lifecycle.
func (s *Source) dialAuthenticated(ctx context.Context) (*websocket.Conn, error) {
	if err := s.conn.Validate(); err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: s.conn.Timeout()}
	ws, _, err := dialer.DialContext(ctx, s.conn.URL(pathSuffix), nil)
	if err != nil {
		return nil, &adapter.TransportError{Op: "connect", Err: err}
	}
	if err := s.authenticate(ws); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// request writes one request frame and decodes the next data-bearing frame
// into out. Parse failures are fatal here: a request/response exchange has
// exactly one expected answer.
func (s *Source) request(ws *websocket.Conn, req interface{}, out interface{}, frame string) error {
	if err := ws.WriteJSON(req); err != nil {
		return &adapter.TransportError{Op: frame + " request", Err: err}
	}
	if err := ws.SetReadDeadline(time.Now().Add(s.conn.Timeout())); err != nil {
		return &adapter.TransportError{Op: frame + " deadline", Err: err}
	}
	defer ws.SetReadDeadline(time.Time{})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return &adapter.ProtocolError{Expected: frame + " response"}
			}
			return &adapter.TransportError{Op: frame + " read", Err: err}
		}

		var probe struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return &adapter.ParseError{Frame: frame, Err: err}
		}
		if probe.Data == nil {
			// Heartbeats or other control frames may interleave; an explicit
			// error frame fails the request.
			msg, derr := decodeFrame(raw)
			if derr != nil {
				return derr
			}
			if _, isErr := msg.(serverError); isErr {
				return &adapter.ProtocolError{Expected: frame + " response"}
			}
			continue
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &adapter.ParseError{Frame: frame, Err: err}
		}
		return nil
	}
}
