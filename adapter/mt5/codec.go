package mt5

import (
	"encoding/json"
	"fmt"

	"flowbridge/adapter"
	"flowbridge/depth"
	"flowbridge/models"
)

// Wire protocol of the MT5 proxy. Every frame is a JSON object discriminated
// by its "type" field.

const (
	frameAuth         = "auth"
	frameAuthResponse = "auth_response"
	frameSubscribe    = "subscribe"
	frameUnsubscribe  = "unsubscribe"
	frameTrade        = "trade"
	frameDepth        = "depth"
	frameHeartbeat    = "heartbeat"
	frameError        = "error"
	framePing         = "ping"
	frameGetSymbols   = "get_symbols"
	frameGetKlines    = "get_klines"
)

type authRequest struct {
	Type      string `json:"type"`
	APIKey    string `json:"api_key"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type subscribeRequest struct {
	Type     string   `json:"type"`
	Symbols  []string `json:"symbols"`
	Channels []string `json:"channels"`
}

type symbolsRequest struct {
	Type string `json:"type"`
}

type klinesRequest struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Limit     int    `json:"limit"`
	Start     *int64 `json:"start,omitempty"`
	End       *int64 `json:"end,omitempty"`
}

type pingMessage struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
}

// authResponse is the server's verdict on an auth request.
type authResponse struct {
	Success bool
	Error   string
}

// serverError is a non-fatal error report from the server.
type serverError struct {
	Message string
}

// heartbeat asks the client to prove liveness.
type heartbeat struct{}

type wireTrade struct {
	Time   int64   `json:"time"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Side   string  `json:"side"`
}

type wireDepth struct {
	Time int64        `json:"time"`
	Bids [][2]float64 `json:"bids"`
	Asks [][2]float64 `json:"asks"`
}

type wireKline struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type klinesResponse struct {
	Data []wireKline `json:"data"`
}

type wireSymbol struct {
	Symbol       string  `json:"symbol"`
	TickSize     float64 `json:"tick_size"`
	MinLot       float64 `json:"min_lot"`
	ContractSize float64 `json:"contract_size"`
	Digits       int     `json:"digits"`
}

type symbolsResponse struct {
	Data []wireSymbol `json:"data"`
}

// frameHeader carries only the discriminator plus the optional fields every
// control frame may set.
type frameHeader struct {
	Type    string `json:"type"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// decodeFrame maps one inbound text frame to its typed representation.
// Frames with an unrecognized type are not an error; they decode to nil.
// Frames whose type is recognized but whose body fails validation return a
// ParseError; the caller decides whether that is fatal.
func decodeFrame(raw []byte) (interface{}, error) {
	var head frameHeader
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &adapter.ParseError{Frame: "unknown", Err: err}
	}

	switch head.Type {
	case frameAuthResponse:
		return authResponse{
			Success: head.Success != nil && *head.Success,
			Error:   head.Error,
		}, nil

	case frameTrade:
		var t wireTrade
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, &adapter.ParseError{Frame: frameTrade, Err: err}
		}
		if t.Time == 0 || (t.Side != "buy" && t.Side != "sell") {
			return nil, &adapter.ParseError{Frame: frameTrade, Err: fmt.Errorf("missing time or side %q", t.Side)}
		}
		return t, nil

	case frameDepth:
		var d wireDepth
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, &adapter.ParseError{Frame: frameDepth, Err: err}
		}
		if d.Time == 0 {
			return nil, &adapter.ParseError{Frame: frameDepth, Err: fmt.Errorf("missing time")}
		}
		return d, nil

	case frameHeartbeat:
		return heartbeat{}, nil

	case frameError:
		msg := head.Message
		if msg == "" {
			msg = head.Error
		}
		return serverError{Message: msg}, nil

	default:
		// Unrecognized frame types are ignored, not errors.
		return nil, nil
	}
}

// toTrade converts a wire trade to canonical form, quantizing the price to
// the instrument's tick size.
func toTrade(t wireTrade, inst models.Instrument) models.Trade {
	return models.Trade{
		Time:   t.Time,
		IsSell: t.Side == "sell",
		Price:  models.QuantizePrice(t.Price, inst.TickSize),
		Qty:    t.Volume,
	}
}

// toDepthUpdate converts a wire depth frame to a cache update. The proxy
// always sends the full visible book, so every frame is a snapshot; its
// timestamp doubles as the monotonically increasing update identifier.
func toDepthUpdate(d wireDepth, inst models.Instrument) depth.Update {
	return depth.Update{
		Kind:     depth.Snapshot,
		UpdateID: uint64(d.Time),
		Time:     d.Time,
		Bids:     toLevels(d.Bids, inst.TickSize),
		Asks:     toLevels(d.Asks, inst.TickSize),
	}
}

func toLevels(pairs [][2]float64, tick float64) []models.DepthLevel {
	levels := make([]models.DepthLevel, 0, len(pairs))
	for _, p := range pairs {
		levels = append(levels, models.DepthLevel{
			Price: models.QuantizePrice(p[0], tick),
			Qty:   p[1],
		})
	}
	return levels
}

// toKline converts a wire candle. The proxy reports only aggregate volume, so
// the buy/sell split is the documented 50/50 approximation.
func toKline(k wireKline, inst models.Instrument) models.Kline {
	buy, sell := models.SplitVolume(k.Volume)
	return models.Kline{
		Time:       k.Time,
		Open:       models.QuantizePrice(k.Open, inst.TickSize),
		High:       models.QuantizePrice(k.High, inst.TickSize),
		Low:        models.QuantizePrice(k.Low, inst.TickSize),
		Close:      models.QuantizePrice(k.Close, inst.TickSize),
		BuyVolume:  buy,
		SellVolume: sell,
	}
}

// toInstrument converts a wire symbol entry. Entries without a symbol name or
// a positive tick size are rejected so one bad entry never fails discovery.
func toInstrument(s wireSymbol) (models.Instrument, error) {
	if s.Symbol == "" {
		return models.Instrument{}, fmt.Errorf("empty symbol")
	}
	if s.TickSize <= 0 {
		return models.Instrument{}, fmt.Errorf("invalid tick size %v for %s", s.TickSize, s.Symbol)
	}
	return models.Instrument{
		Symbol:       s.Symbol,
		Exchange:     exchangeName,
		TickSize:     s.TickSize,
		MinLot:       s.MinLot,
		ContractSize: s.ContractSize,
	}, nil
}
