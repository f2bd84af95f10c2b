package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deribit-core/internal/api"
	"deribit-core/internal/engine"
	"deribit-core/internal/events"
	"deribit-core/internal/market"
	"deribit-core/internal/monitor"
	"deribit-core/internal/position"
	"deribit-core/internal/risk"
	"deribit-core/internal/strategy"
	"deribit-core/pkg/cache"
	"deribit-core/pkg/config"
	"deribit-core/pkg/deribit"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	strat, err := strategy.Parse(cfg.Strategy)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	level, err := risk.ParseLevel(cfg.RiskLevel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	instrument := cfg.Instruments[0]

	bus := events.NewBus()
	collector := monitor.NewCollector(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	riskMgr := risk.NewManager(level, bus)

	var (
		gateway  position.OrderPlacer
		orders   api.OrderLister
		stream   *deribit.StreamSession
		runFeeds []func(context.Context)
	)

	if cfg.UseMockFeed {
		log.Print("main: mock feed enabled, no exchange connection")
		mock := &market.MockFeed{Bus: bus, Instrument: instrument, Interval: cfg.PollInterval}
		runFeeds = append(runFeeds, mock.Run)
		gateway = paperGateway{}
		orders = noOrders{}
	} else {
		creds := deribit.Credentials{Key: cfg.DeribitAPIKey, Secret: cfg.DeribitAPISecret}
		client, err := deribit.NewClient(deribit.Config{
			Credentials: creds,
			Testnet:     cfg.DeribitTestnet,
			Observer:    collector.Observer(),
		})
		if err != nil {
			log.Fatalf("deribit: %v", err)
		}
		instruments := deribit.NewInstrumentCache(client, cfg.InstrumentCacheTTL)
		gw := deribit.NewGateway(client, instruments)
		gateway = gw
		orders = gw

		for _, inst := range cfg.Instruments {
			feed := &market.Feed{
				Source:     gw,
				Bus:        bus,
				Instrument: inst,
				Interval:   cfg.PollInterval,
			}
			runFeeds = append(runFeeds, feed.Run)
		}

		stream = deribit.NewStreamSession(deribit.StreamConfig{
			Credentials: creds,
			Testnet:     cfg.DeribitTestnet,
			Handler:     &market.StreamBridge{Bus: bus},
			Instrument:  instrument,
		})
		runFeeds = append(runFeeds, stream.Run)
	}

	posMgr := position.NewManager(gateway, instrument, riskMgr, bus)
	eng := engine.New(engine.Config{Instrument: instrument, Strategy: strat},
		gateway, riskMgr, posMgr, bus)

	quotes := cache.NewQuoteCache()
	server := api.NewServer(api.Config{
		Instrument:  instrument,
		JWTSecret:   cfg.JWTSecret,
		OperatorKey: cfg.OperatorKey,
	}, eng, riskMgr, collector.Metrics, orders, quotes, posMgr)

	go collector.Run(ctx)
	go market.RecordQuotes(ctx, bus, quotes)
	go eng.Run(ctx)
	for _, run := range runFeeds {
		go run(ctx)
	}

	go func() {
		log.Printf("main: listening on :%s", cfg.Port)
		if err := server.Router.Run(":" + cfg.Port); err != nil {
			log.Fatalf("api: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Print("main: shutting down")

	// Flatten before the context dies so exits still reach the exchange.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	eng.Stop(shutdownCtx)
	shutdownCancel()

	if stream != nil {
		stream.Close()
	}
	cancel()
}

// paperGateway backs the mock feed: orders are acknowledged locally and
// never leave the process.
type paperGateway struct{}

func (paperGateway) PlaceOrder(ctx context.Context, req deribit.OrderRequest) (string, error) {
	log.Printf("paper: %s %s amount=%.2f type=%s", req.Direction, req.Instrument, req.Amount, req.Type)
	return "paper-" + time.Now().Format("150405.000"), nil
}

type noOrders struct{}

func (noOrders) OpenOrders(ctx context.Context, instrument string) []deribit.OpenOrder {
	return nil
}
