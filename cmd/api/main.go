// The api binary serves the REST surface over the shared database: signal
// lifecycle, watchlist management, on-demand backtests, and learning
// introspection. Scheduled jobs run in the scheduler daemon; this process
// only reads and writes state.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zurychhh/alpha-machine-sub000/internal/alerts"
	"github.com/zurychhh/alpha-machine-sub000/internal/api"
	"github.com/zurychhh/alpha-machine-sub000/internal/backtest"
	"github.com/zurychhh/alpha-machine-sub000/internal/config"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/learning"
	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.Database.GetDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	signalStore := db.NewSignalStore(database.Pool())
	watchlistStore := db.NewWatchlistStore(database.Pool())
	weightStore := db.NewWeightStore(database.Pool())
	learningLog := db.NewLearningLogStore(database.Pool())
	sysConfig := db.NewSystemConfigStore(database.Pool())
	backtestStore := db.NewBacktestStore(database.Pool())

	yahoo := market.NewYahooClient(10 * time.Second)
	engine := backtest.NewEngine(
		signalStore,
		backtestStore,
		backtest.NewHistoryCache(yahoo, 365),
		log.Logger,
	)

	// Manual overrides and bias checks go through the same loop the
	// scheduler uses; regime detection and bus publishing stay with the
	// daemon.
	alertManager := alerts.NewManager(alerts.NewLogAlerter())
	loop := learning.NewLoop(signalStore, weightStore, learningLog, sysConfig, nil, alertManager, nil, log.Logger)

	server := api.NewServer(api.Config{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		DB:        database.Pool(),
		Signals:   signalStore,
		Watchlist: watchlistStore,
		Backtests: engine,
		Runs:      backtestStore,
		Learning:  loop,
		Weights:   weightStore,
		Events:    learningLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
		os.Exit(1)
	}
}
