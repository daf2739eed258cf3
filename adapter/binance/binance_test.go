package binance

import (
	"testing"

	libbinance "github.com/adshao/go-binance/v2"

	"flowbridge/depth"
	"flowbridge/models"
)

var testInstrument = models.Instrument{
	Symbol:   "BTCUSDT",
	Exchange: exchangeName,
	TickSize: 0.01,
	MinLot:   0.00001,
}

func TestConvertKlineRealSplit(t *testing.T) {
	k, err := convertKline(&libbinance.Kline{
		OpenTime:                1700000000000,
		Open:                    "42000.123",
		High:                    "42100.5",
		Low:                     "41900.0",
		Close:                   "42050.0",
		Volume:                  "12.5",
		TakerBuyBaseAssetVolume: "4.5",
	}, testInstrument)
	if err != nil {
		t.Fatalf("convertKline: %v", err)
	}
	if k.Open != 42000.12 {
		t.Fatalf("open not quantized to tick: %v", k.Open)
	}
	if k.BuyVolume != 4.5 || k.SellVolume != 8 {
		t.Fatalf("split should follow taker-buy volume, got buy=%v sell=%v", k.BuyVolume, k.SellVolume)
	}
}

func TestConvertKlineRejectsBadNumbers(t *testing.T) {
	_, err := convertKline(&libbinance.Kline{
		OpenTime: 1700000000000,
		Open:     "not a price",
	}, testInstrument)
	if err == nil {
		t.Fatal("expected error for unparseable row")
	}
}

func TestConvertTradeSide(t *testing.T) {
	trade := convertTrade(&libbinance.WsAggTradeEvent{
		TradeTime:    1700000000000,
		Price:        "42000.126",
		Quantity:     "0.5",
		IsBuyerMaker: true,
	}, testInstrument)
	if !trade.IsSell {
		t.Fatal("buyer-maker trade must map to an aggressive sell")
	}
	if trade.Price != 42000.13 {
		t.Fatalf("price not quantized: %v", trade.Price)
	}
	if trade.Qty != 0.5 || trade.Time != 1700000000000 {
		t.Fatalf("unexpected trade: %+v", trade)
	}
}

func TestConvertDepth(t *testing.T) {
	u := convertDepth(&libbinance.WsPartialDepthEvent{
		Symbol:       "BTCUSDT",
		LastUpdateID: 12345,
		Bids: []libbinance.Bid{
			{Price: "42000.00", Quantity: "1.5"},
			{Price: "bad", Quantity: "1"},
		},
		Asks: []libbinance.Ask{
			{Price: "42000.50", Quantity: "2"},
		},
	}, testInstrument)

	if u.Kind != depth.Snapshot || u.UpdateID != 12345 {
		t.Fatalf("unexpected update header: %+v", u)
	}
	if len(u.Bids) != 1 || len(u.Asks) != 1 {
		t.Fatalf("unparseable level should be dropped: %+v", u)
	}
	if u.Bids[0].Price != 42000 || u.Asks[0].Qty != 2 {
		t.Fatalf("unexpected levels: %+v", u)
	}
}

func TestIntervalsCoverAllTimeframes(t *testing.T) {
	for _, tf := range []models.Timeframe{
		models.M1, models.M3, models.M5, models.M15, models.M30,
		models.H1, models.H2, models.H4, models.H12, models.D1,
	} {
		if _, ok := intervals[tf]; !ok {
			t.Fatalf("timeframe %s has no exchange interval", tf.Code())
		}
	}
	if intervals[models.M1] != "1m" || intervals[models.D1] != "1d" {
		t.Fatalf("unexpected interval mapping: %v", intervals)
	}
}
