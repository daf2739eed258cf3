package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument describes a tradable symbol on one venue. The (Symbol, Exchange)
// pair is the unique key; the remaining fields are metadata reported by the
// venue. Instruments are shared by value and never mutated after construction.
type Instrument struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	TickSize     float64 `json:"tick_size"`
	MinLot       float64 `json:"min_lot"`
	ContractSize float64 `json:"contract_size,omitempty"`
}

// Key returns the unique identifier for this instrument.
func (i Instrument) Key() string {
	return fmt.Sprintf("%s:%s", i.Exchange, i.Symbol)
}

func (i Instrument) String() string { return i.Key() }

// QuantizePrice rounds price to the nearest multiple of tick. Raw wire values
// are quantized exactly once, at the boundary into canonical types.
func QuantizePrice(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	q, _ := p.DivRound(t, 0).Mul(t).Float64()
	return q
}

// DepthLevel is one price level on one side of the book.
type DepthLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// DepthSnapshot is an immutable view of the reconstructed book, bids and asks
// sorted best-first. A snapshot is built once at emission time and then only
// read, so it can be handed to any number of consumers.
type DepthSnapshot struct {
	Bids         []DepthLevel `json:"bids"`
	Asks         []DepthLevel `json:"asks"`
	LastUpdateID uint64       `json:"last_update_id"`
	Time         int64        `json:"time"`
}

// BestBid returns the highest bid, or false when that side is empty.
func (d *DepthSnapshot) BestBid() (DepthLevel, bool) {
	if len(d.Bids) == 0 {
		return DepthLevel{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the lowest ask, or false when that side is empty.
func (d *DepthSnapshot) BestAsk() (DepthLevel, bool) {
	if len(d.Asks) == 0 {
		return DepthLevel{}, false
	}
	return d.Asks[0], true
}

// Trade is one canonical trade print. Time is epoch milliseconds and Price is
// already quantized to the instrument's tick size.
type Trade struct {
	Time   int64   `json:"time"`
	IsSell bool    `json:"is_sell"`
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
}

// Stats carries the rolling 24h statistics for one instrument.
type Stats struct {
	LastPrice      float64 `json:"last_price"`
	DailyChangePct float64 `json:"daily_change_pct"`
	DailyVolume    float64 `json:"daily_volume"`
}

// Timeframe is the candle granularity.
type Timeframe int

const (
	M1 Timeframe = iota
	M3
	M5
	M15
	M30
	H1
	H2
	H4
	H12
	D1
)

var timeframeCodes = [...]string{"M1", "M3", "M5", "M15", "M30", "H1", "H2", "H4", "H12", "D1"}

var timeframeDurations = [...]time.Duration{
	time.Minute,
	3 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
	4 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// Code returns the wire code for the timeframe ("M1", "H1", ...). Unknown
// values fall back to M1.
func (t Timeframe) Code() string {
	if t < M1 || t > D1 {
		return "M1"
	}
	return timeframeCodes[t]
}

// Duration returns the span covered by one candle of this timeframe.
func (t Timeframe) Duration() time.Duration {
	if t < M1 || t > D1 {
		return time.Minute
	}
	return timeframeDurations[t]
}

func (t Timeframe) String() string { return t.Code() }

// Kline is one canonical candle. Volume is kept split by aggressor side; when
// a venue reports only the aggregate, SplitVolume distributes it 50/50.
type Kline struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
}

// SplitVolume halves an aggregate volume into equal buy and sell parts. This
// is a documented approximation for venues that do not report the split.
func SplitVolume(total float64) (buy, sell float64) {
	return total / 2, total / 2
}

// Event is the tagged union delivered on a stream's output channel.
type Event interface {
	isEvent()
}

// Connected reports a stream transitioning into steady-state streaming.
type Connected struct {
	Exchange string
}

// Disconnected reports a stream leaving its connection, with a human-readable
// reason (clean close text or the underlying error).
type Disconnected struct {
	Exchange string
	Reason   string
}

// DepthReceived carries the current book snapshot together with the trades
// buffered since the previous depth update. Ownership of Trades transfers to
// the receiver; Depth is a shared immutable snapshot.
type DepthReceived struct {
	Instrument Instrument
	Time       int64
	Depth      *DepthSnapshot
	Trades     []Trade
}

func (Connected) isEvent()     {}
func (Disconnected) isEvent()  {}
func (DepthReceived) isEvent() {}
