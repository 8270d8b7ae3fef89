package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/minkyow/trademirror/params"
	"github.com/minkyow/trademirror/pkg/api"
	"github.com/minkyow/trademirror/pkg/core"
	"github.com/minkyow/trademirror/pkg/core/book"
	"github.com/minkyow/trademirror/pkg/engine"
	"github.com/minkyow/trademirror/pkg/events"
	"github.com/minkyow/trademirror/pkg/feed"
	"github.com/minkyow/trademirror/pkg/portfolio"
	"github.com/minkyow/trademirror/pkg/settle"
	"github.com/minkyow/trademirror/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (console, plus JSON file when configured)
	logger := mustLogger(cfg)
	defer logger.Sync()
	sugar := logger.Sugar()

	// ---- Storage ----
	var store portfolio.Store
	if cfg.Storage.Path == "" {
		store = portfolio.NewMemoryStore()
		sugar.Info("using in-memory store")
	} else {
		ps, err := portfolio.NewPebbleStore(cfg.Storage.Path)
		if err != nil {
			sugar.Fatalw("store_open_failed", "path", cfg.Storage.Path, "err", err)
		}
		store = ps
		sugar.Infow("store_opened", "path", cfg.Storage.Path)
	}
	defer store.Close()

	// ---- Matching + settlement ----
	books := book.NewRegistry()
	settler := settle.NewProcessor(store, sugar)
	eng := engine.New(books, store, settler, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Trade feed (optional) ----
	var publisher *feed.Publisher
	if cfg.Feed.Enabled {
		publisher = feed.NewPublisher(cfg.Feed.Brokers, cfg.Feed.Topic, sugar)
		defer publisher.Close()
		sugar.Infow("feed_enabled", "brokers", cfg.Feed.Brokers, "topic", cfg.Feed.Topic)
	}

	// ---- API Server ----
	apiServer := api.NewServer(eng, sugar)

	// Fan settled trades out to websocket clients and the kafka feed
	eng.OnTrade = func(t core.MatchedTrade) {
		apiServer.BroadcastTrade(t)
		if publisher != nil {
			if err := publisher.Publish(ctx, t); err != nil {
				sugar.Errorw("feed_publish_failed", "trade", t.Key(), "err", err)
			}
		}
	}

	// ---- External ledger mirror (optional) ----
	// Trades matched elsewhere but recorded on the upstream ledger flow
	// through the same settlement processor as local fills.
	if cfg.Ledger.Enabled {
		contract, err := cfg.Ledger.ContractAddress()
		if err != nil {
			sugar.Fatalw("ledger_config_invalid", "err", err)
		}
		listener := events.NewListener(events.Config{
			WSURL:    cfg.Ledger.WSURL,
			Contract: contract,
			Buffer:   cfg.Ledger.Buffer,
		}, store, sugar)

		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Errorw("ledger_listener_stopped", "err", err)
			}
		}()
		go settler.Run(ctx, listener.Trades())

		sugar.Infow("ledger_mirror_enabled",
			"ws_url", cfg.Ledger.WSURL, "contract", cfg.Ledger.Contract)
	}

	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started", "api_addr", cfg.API.Addr)
	<-ctx.Done()
	sugar.Info("shutting down")
}

func mustLogger(cfg params.Config) *zap.Logger {
	if cfg.Log.File != "" {
		logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
		if err != nil {
			log.Fatalf("logger: %v", err)
		}
		return logger
	}
	logger, err := util.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	return logger
}
