// Package binance implements the market-data contract for Binance spot using
// the exchange's official-style SDK. Unlike the MT5 dialect it has real REST
// endpoints for symbols, stats and history, and separate depth and trade
// websocket streams that are merged into the shared event model.
package binance

import (
	"context"
	"strconv"
	"time"

	libbinance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"flowbridge/adapter"
	"flowbridge/config"
	"flowbridge/depth"
	"flowbridge/logger"
	"flowbridge/models"
)

const (
	exchangeName = "binance"
	// depthLevels is the partial book depth subscribed on the stream.
	depthLevels = "20"
	// historyLimit caps one klines request.
	historyLimit = 500
)

var intervals = map[models.Timeframe]string{
	models.M1:  "1m",
	models.M3:  "3m",
	models.M5:  "5m",
	models.M15: "15m",
	models.M30: "30m",
	models.H1:  "1h",
	models.H2:  "2h",
	models.H4:  "4h",
	models.H12: "12h",
	models.D1:  "1d",
}

// Source is the Binance dialect of the market-data contract. Market data is
// public, so it works with or without credentials.
type Source struct {
	conn    config.Connection
	stream  config.StreamConfig
	client  *libbinance.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func init() {
	adapter.Register(exchangeName, func(conn config.Connection, stream config.StreamConfig) (adapter.MarketSource, error) {
		return New(conn, stream), nil
	})
}

// New builds a Binance market source. REST calls are throttled to stay well
// inside the venue's request weight limits.
func New(conn config.Connection, stream config.StreamConfig) *Source {
	return &Source{
		conn:    conn,
		stream:  stream,
		client:  libbinance.NewClient(conn.APIKey, conn.APISecret),
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		log:     logger.GetLogger(),
	}
}

// Exchange returns the venue tag.
func (s *Source) Exchange() string { return exchangeName }

// FetchSymbols discovers trading instruments from the exchange info endpoint.
// Entries without usable price/lot filters are skipped.
func (s *Source) FetchSymbols(ctx context.Context) (map[string]models.Instrument, error) {
	log := s.log.WithComponent("binance_symbols")

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &adapter.TransportError{Op: "rate wait", Err: err}
	}
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, &adapter.TransportError{Op: "exchange info", Err: err}
	}

	result := make(map[string]models.Instrument, len(info.Symbols))
	for i := range info.Symbols {
		sym := &info.Symbols[i]
		if sym.Status != "TRADING" {
			continue
		}
		priceFilter := sym.PriceFilter()
		lotFilter := sym.LotSizeFilter()
		if priceFilter == nil || lotFilter == nil {
			continue
		}
		tick, err := strconv.ParseFloat(priceFilter.TickSize, 64)
		if err != nil || tick <= 0 {
			log.WithFields(logger.Fields{"symbol": sym.Symbol}).Warn("skipping symbol without tick size")
			continue
		}
		minLot, err := strconv.ParseFloat(lotFilter.MinQuantity, 64)
		if err != nil {
			continue
		}
		result[sym.Symbol] = models.Instrument{
			Symbol:   sym.Symbol,
			Exchange: exchangeName,
			TickSize: tick,
			MinLot:   minLot,
		}
	}

	log.WithFields(logger.Fields{"count": len(result)}).Info("symbols fetched")
	return result, nil
}

// FetchStats returns the rolling 24h statistics for every symbol.
func (s *Source) FetchStats(ctx context.Context) (map[string]models.Stats, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &adapter.TransportError{Op: "rate wait", Err: err}
	}
	all, err := s.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, &adapter.TransportError{Op: "24h stats", Err: err}
	}

	result := make(map[string]models.Stats, len(all))
	for _, st := range all {
		last, err1 := strconv.ParseFloat(st.LastPrice, 64)
		change, err2 := strconv.ParseFloat(st.PriceChangePercent, 64)
		volume, err3 := strconv.ParseFloat(st.Volume, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		result[st.Symbol] = models.Stats{
			LastPrice:      last,
			DailyChangePct: change,
			DailyVolume:    volume,
		}
	}
	return result, nil
}

// FetchHistory loads candles from the klines endpoint. Binance reports the
// taker-buy volume, so the buy/sell split is real here, not the 50/50
// approximation used by venues that only report aggregates.
func (s *Source) FetchHistory(ctx context.Context, inst models.Instrument, tf models.Timeframe, rng *adapter.TimeRange) ([]models.Kline, error) {
	interval, ok := intervals[tf]
	if !ok {
		interval = "1m"
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &adapter.TransportError{Op: "rate wait", Err: err}
	}

	svc := s.client.NewKlinesService().
		Symbol(inst.Symbol).
		Interval(interval).
		Limit(historyLimit)
	if rng != nil {
		svc = svc.StartTime(rng.Start).EndTime(rng.End)
	}

	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, &adapter.TransportError{Op: "klines", Err: err}
	}

	klines := make([]models.Kline, 0, len(raw))
	for _, k := range raw {
		converted, err := convertKline(k, inst)
		if err != nil {
			// One unparseable row should not void the whole response.
			s.log.WithComponent("binance_history").WithError(err).Warn("skipping kline row")
			continue
		}
		klines = append(klines, converted)
	}
	return klines, nil
}

func convertKline(k *libbinance.Kline, inst models.Instrument) (models.Kline, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.Kline{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.Kline{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.Kline{}, err
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.Kline{}, err
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.Kline{}, err
	}
	takerBuy, err := strconv.ParseFloat(k.TakerBuyBaseAssetVolume, 64)
	if err != nil {
		return models.Kline{}, err
	}
	return models.Kline{
		Time:       k.OpenTime,
		Open:       models.QuantizePrice(open, inst.TickSize),
		High:       models.QuantizePrice(high, inst.TickSize),
		Low:        models.QuantizePrice(low, inst.TickSize),
		Close:      models.QuantizePrice(closePrice, inst.TickSize),
		BuyVolume:  takerBuy,
		SellVolume: volume - takerBuy,
	}, nil
}

// OpenStream merges the partial depth and aggregate trade streams into the
// shared event model: trades buffer between depth updates and are drained
// with each DepthReceived. The shared reconnect backoff policy applies,
// scoped to this call.
func (s *Source) OpenStream(ctx context.Context, inst models.Instrument) (<-chan models.Event, error) {
	out := make(chan models.Event, s.stream.Buffer)
	go s.runStream(ctx, inst, out)
	return out, nil
}

func (s *Source) runStream(ctx context.Context, inst models.Instrument, out chan<- models.Event) {
	defer close(out)

	log := s.log.WithComponent("binance_stream").WithFields(logger.Fields{
		"symbol":    inst.Symbol,
		"stream_id": uuid.NewString()[:8],
	})

	delay := adapter.NewReconnectBackoff()

	for {
		reason := s.connectAndStream(ctx, inst, out, log)

		if !adapter.Emit(ctx, out, models.Disconnected{Exchange: exchangeName, Reason: reason}) {
			return
		}
		if !s.conn.AutoReconnect {
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

func (s *Source) connectAndStream(ctx context.Context, inst models.Instrument, out chan<- models.Event, log *logger.Entry) string {
	// SDK handlers run on their own goroutines; they only forward into these
	// channels so the cache and trade buffer stay single-writer.
	depthC := make(chan *libbinance.WsPartialDepthEvent, 64)
	tradeC := make(chan *libbinance.WsAggTradeEvent, 256)
	errC := make(chan error, 2)

	errHandler := func(err error) {
		select {
		case errC <- err:
		default:
		}
	}

	doneDepth, stopDepth, err := libbinance.WsPartialDepthServe(inst.Symbol, depthLevels,
		func(ev *libbinance.WsPartialDepthEvent) {
			select {
			case depthC <- ev:
			default:
				log.Warn("depth buffer full, dropping update")
			}
		}, errHandler)
	if err != nil {
		return (&adapter.TransportError{Op: "depth stream", Err: err}).Error()
	}
	defer func() {
		close(stopDepth)
		<-doneDepth
	}()

	doneTrade, stopTrade, err := libbinance.WsAggTradeServe(inst.Symbol,
		func(ev *libbinance.WsAggTradeEvent) {
			select {
			case tradeC <- ev:
			default:
				log.Warn("trade buffer full, dropping trade")
			}
		}, errHandler)
	if err != nil {
		return (&adapter.TransportError{Op: "trade stream", Err: err}).Error()
	}
	defer func() {
		close(stopTrade)
		<-doneTrade
	}()

	if !adapter.Emit(ctx, out, models.Connected{Exchange: exchangeName}) {
		return "consumer cancelled"
	}
	log.Info("streaming")

	book := depth.NewCache()
	var trades []models.Trade

	for {
		select {
		case <-ctx.Done():
			return "consumer cancelled"

		case err := <-errC:
			return (&adapter.TransportError{Op: "stream", Err: err}).Error()

		case <-doneDepth:
			return "depth stream closed"

		case <-doneTrade:
			return "trade stream closed"

		case ev := <-tradeC:
			trades = append(trades, convertTrade(ev, inst))

		case ev := <-depthC:
			update := convertDepth(ev, inst)
			if !book.Apply(update) {
				continue
			}
			drained := trades
			trades = nil
			event := models.DepthReceived{
				Instrument: inst,
				Time:       book.LastTime(),
				Depth:      book.Snapshot(),
				Trades:     drained,
			}
			if !adapter.Emit(ctx, out, event) {
				return "consumer cancelled"
			}
		}
	}
}

func convertTrade(ev *libbinance.WsAggTradeEvent, inst models.Instrument) models.Trade {
	price, _ := strconv.ParseFloat(ev.Price, 64)
	qty, _ := strconv.ParseFloat(ev.Quantity, 64)
	return models.Trade{
		Time: ev.TradeTime,
		// The aggressor sold when the resting buyer was the maker.
		IsSell: ev.IsBuyerMaker,
		Price:  models.QuantizePrice(price, inst.TickSize),
		Qty:    qty,
	}
}

func convertDepth(ev *libbinance.WsPartialDepthEvent, inst models.Instrument) depth.Update {
	return depth.Update{
		Kind:     depth.Snapshot,
		UpdateID: uint64(ev.LastUpdateID),
		Time:     time.Now().UnixMilli(),
		Bids:     convertLevels(ev.Bids, inst.TickSize),
		Asks:     convertLevels(ev.Asks, inst.TickSize),
	}
}

func convertLevels(raw []libbinance.Bid, tick float64) []models.DepthLevel {
	levels := make([]models.DepthLevel, 0, len(raw))
	for _, l := range raw {
		price, err1 := strconv.ParseFloat(l.Price, 64)
		qty, err2 := strconv.ParseFloat(l.Quantity, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, models.DepthLevel{
			Price: models.QuantizePrice(price, tick),
			Qty:   qty,
		})
	}
	return levels
}
