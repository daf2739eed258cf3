package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"flowbridge/adapter"
	_ "flowbridge/adapter/binance"
	_ "flowbridge/adapter/mt5"
	"flowbridge/config"
	"flowbridge/internal/streamhub"
	"flowbridge/logger"
	"flowbridge/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":  cfg.Flowbridge.Name,
		"version":  cfg.Flowbridge.Version,
		"exchange": cfg.Connection.Exchange,
	}).Info("starting flowbridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := adapter.New(cfg.Connection.Exchange, cfg.Connection, cfg.Stream)
	if err != nil {
		log.WithError(err).Error("Failed to create market source")
		os.Exit(1)
	}

	symbols, err := source.FetchSymbols(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to fetch symbols")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{"count": len(symbols)}).Info("symbols discovered")

	hub := streamhub.NewHub()
	hub.StartReporting(ctx, 30*time.Second)

	var wg sync.WaitGroup
	started := 0
	for _, name := range cfg.Stream.Symbols {
		inst, ok := symbols[name]
		if !ok {
			log.WithFields(logger.Fields{"symbol": name}).Warn("configured symbol not offered by venue, skipping")
			continue
		}

		events, err := source.OpenStream(ctx, inst)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"symbol": name}).Error("Failed to open stream")
			continue
		}
		started++
		hub.Register(inst, events)

		wg.Add(1)
		go func(inst models.Instrument, events <-chan models.Event) {
			defer wg.Done()
			consumeStream(hub, inst, events)
		}(inst, events)
	}

	if started == 0 {
		log.Error("no streams started, exiting")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	cancel()
	wg.Wait()
	log.Info("flowbridge stopped")
}

// consumeStream drains one instrument's event channel until it closes,
// logging a digest of each event.
func consumeStream(hub *streamhub.Hub, inst models.Instrument, events <-chan models.Event) {
	log := logger.GetLogger().WithComponent("consumer").WithFields(logger.Fields{
		"symbol": inst.Symbol,
	})

	for ev := range events {
		hub.Record(inst, ev)
		switch e := ev.(type) {
		case models.Connected:
			log.WithFields(logger.Fields{"exchange": e.Exchange}).Info("stream connected")

		case models.Disconnected:
			log.WithFields(logger.Fields{"reason": e.Reason}).Warn("stream disconnected")

		case models.DepthReceived:
			fields := logger.Fields{
				"time":   e.Time,
				"levels": len(e.Depth.Bids) + len(e.Depth.Asks),
				"trades": len(e.Trades),
			}
			if bid, ok := e.Depth.BestBid(); ok {
				fields["best_bid"] = bid.Price
			}
			if ask, ok := e.Depth.BestAsk(); ok {
				fields["best_ask"] = ask.Price
			}
			log.WithFields(fields).Debug("depth update")
		}
	}
	log.Info("stream closed")
}
