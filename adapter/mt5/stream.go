package mt5

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"flowbridge/adapter"
	"flowbridge/depth"
	"flowbridge/logger"
	"flowbridge/models"
)

// connState tracks where a connection attempt is in its lifecycle. One
// attempt walks Disconnected -> Connecting -> Authenticating -> Subscribing
// -> Streaming and back to Disconnected; the driver loop decides whether to
// reconnect from there.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateAuthenticating
	stateSubscribing
	stateStreaming
)

var stateNames = [...]string{"disconnected", "connecting", "authenticating", "subscribing", "streaming"}

func (s connState) String() string {
	if s < stateDisconnected || s > stateStreaming {
		return "unknown"
	}
	return stateNames[s]
}

// OpenStream starts the live depth+trade stream for one instrument. The
// returned channel has the configured capacity; a slow consumer blocks the
// stream goroutine, which is the backpressure mechanism. Cancelling ctx stops
// the stream and closes the channel. The reconnect backoff is scoped to this
// call: it starts at one second and is never reset while the stream lives.
func (s *Source) OpenStream(ctx context.Context, inst models.Instrument) (<-chan models.Event, error) {
	if err := s.conn.Validate(); err != nil {
		return nil, err
	}

	out := make(chan models.Event, s.stream.Buffer)
	go s.runStream(ctx, inst, out)
	return out, nil
}

func (s *Source) runStream(ctx context.Context, inst models.Instrument, out chan<- models.Event) {
	defer close(out)

	log := s.log.WithComponent("mt5_stream").WithFields(logger.Fields{
		"symbol":    inst.Symbol,
		"stream_id": uuid.NewString()[:8],
	})

	delay := adapter.NewReconnectBackoff()

	for {
		log.WithFields(logger.Fields{"url": s.conn.URL(pathSuffix)}).Info("connecting to mt5 proxy")

		reason := s.connectAndStream(ctx, inst, out, log)

		if !adapter.Emit(ctx, out, models.Disconnected{Exchange: exchangeName, Reason: reason}) {
			return
		}
		if !s.conn.AutoReconnect {
			log.Info("auto-reconnect disabled, stream ends")
			return
		}

		wait := delay.Duration()
		log.WithFields(logger.Fields{"reason": reason, "retry_in": wait.String()}).Warn("stream disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectAndStream drives a single connection attempt through the full state
// machine and returns the human-readable reason it ended.
func (s *Source) connectAndStream(ctx context.Context, inst models.Instrument, out chan<- models.Event, log *logger.Entry) string {
	state := stateConnecting
	log.WithFields(logger.Fields{"state": state.String()}).Debug("state transition")

	dialer := websocket.Dialer{HandshakeTimeout: s.conn.Timeout()}
	ws, _, err := dialer.DialContext(ctx, s.conn.URL(pathSuffix), nil)
	if err != nil {
		return (&adapter.TransportError{Op: "connect", Err: err}).Error()
	}

	// Unblock the read loop when the consumer cancels.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-watchDone:
		}
	}()
	defer closeQuietly(ws)

	state = stateAuthenticating
	log.WithFields(logger.Fields{"state": state.String()}).Debug("state transition")
	if err := s.authenticate(ws); err != nil {
		return err.Error()
	}

	state = stateSubscribing
	log.WithFields(logger.Fields{"state": state.String()}).Debug("state transition")
	sub := subscribeRequest{
		Type:     frameSubscribe,
		Symbols:  []string{inst.Symbol},
		Channels: []string{frameTrade, frameDepth},
	}
	if err := ws.WriteJSON(sub); err != nil {
		return (&adapter.TransportError{Op: "subscribe", Err: err}).Error()
	}

	// The proxy sends no subscribe acknowledgment; proceed straight to
	// streaming once the request is written.
	state = stateStreaming
	log.WithFields(logger.Fields{"state": state.String()}).Info("streaming")
	if !adapter.Emit(ctx, out, models.Connected{Exchange: exchangeName}) {
		return "consumer cancelled"
	}

	// Cache and trade buffer are owned by this goroutine for the lifetime of
	// this attempt; both start empty on every (re)connect.
	book := depth.NewCache()
	var trades []models.Trade

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "consumer cancelled"
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "connection closed"
			}
			return (&adapter.TransportError{Op: "read", Err: err}).Error()
		}

		msg, derr := decodeFrame(raw)
		if derr != nil {
			// One malformed frame must not kill a healthy stream.
			log.WithError(derr).Warn("dropping malformed frame")
			continue
		}

		switch m := msg.(type) {
		case wireTrade:
			trades = append(trades, toTrade(m, inst))

		case wireDepth:
			if !book.Apply(toDepthUpdate(m, inst)) {
				log.WithFields(logger.Fields{"update_time": m.Time}).Debug("dropping stale depth update")
				continue
			}
			// Trades ride along with the next depth emission; ownership of
			// the drained slice transfers to the consumer.
			drained := trades
			trades = nil
			ev := models.DepthReceived{
				Instrument: inst,
				Time:       book.LastTime(),
				Depth:      book.Snapshot(),
				Trades:     drained,
			}
			if !adapter.Emit(ctx, out, ev) {
				return "consumer cancelled"
			}

		case heartbeat:
			pong := pingMessage{Type: framePing, Time: time.Now().UnixMilli()}
			if err := ws.WriteJSON(pong); err != nil {
				return (&adapter.TransportError{Op: "heartbeat reply", Err: err}).Error()
			}
			if book.IsStale(time.Now(), s.stream.StaleAfter()) {
				log.WithFields(logger.Fields{"last_update": book.LastTime()}).Warn("depth feed degraded, no recent updates")
			}

		case serverError:
			log.WithFields(logger.Fields{"server_message": m.Message}).Error("server reported error")

		case authResponse:
			// Unsolicited while streaming; nothing to do.
		}
	}
}

// authenticate sends the signed auth request and waits for the server's
// verdict, bounded by the configured timeout.
func (s *Source) authenticate(ws *websocket.Conn) error {
	now := time.Now().UnixMilli()
	req := authRequest{
		Type:      frameAuth,
		APIKey:    s.conn.APIKey,
		Timestamp: now,
		Signature: sign(s.conn.APIKey, now, s.conn.APISecret),
	}
	if err := ws.WriteJSON(req); err != nil {
		return &adapter.TransportError{Op: "auth write", Err: err}
	}

	if err := ws.SetReadDeadline(time.Now().Add(s.conn.Timeout())); err != nil {
		return &adapter.TransportError{Op: "auth deadline", Err: err}
	}
	defer ws.SetReadDeadline(time.Time{})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return &adapter.AuthError{Reason: "timed out waiting for auth response"}
			}
			return &adapter.ProtocolError{Expected: "auth_response"}
		}
		msg, derr := decodeFrame(raw)
		if derr != nil {
			return derr
		}
		resp, ok := msg.(authResponse)
		if !ok {
			// Frames queued before our auth landed; skip them.
			continue
		}
		if !resp.Success {
			reason := resp.Error
			if reason == "" {
				reason = "rejected by server"
			}
			return &adapter.AuthError{Reason: reason}
		}
		return nil
	}
}

// closeQuietly attempts a clean websocket shutdown.
func closeQuietly(ws *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = ws.Close()
}
