// Backtest runner CLI: replays stored BUY signals over a historical window
// and prints the performance report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zurychhh/alpha-machine-sub000/internal/backtest"
	"github.com/zurychhh/alpha-machine-sub000/internal/config"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	startDate  = flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate    = flag.String("end", "", "End date (YYYY-MM-DD)")
	mode       = flag.String("mode", "", "Allocation mode (CORE_FOCUS, BALANCED, DIVERSIFIED)")
	capital    = flag.Float64("capital", 0, "Starting capital (default from config)")
	holdDays   = flag.Int("hold", 0, "Hold period in days (default from config)")
	tickers    = flag.String("tickers", "", "Comma-separated ticker filter (default: all)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *startDate == "" || *endDate == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -start=YYYY-MM-DD -end=YYYY-MM-DD [-mode=BALANCED] [-capital=100000]")
		os.Exit(2)
	}

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid start date")
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid end date")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	runCfg := backtest.Config{
		Start:           start,
		End:             end,
		StartingCapital: cfg.Backtest.StartingCapital,
		HoldPeriodDays:  cfg.Backtest.HoldPeriodDays,
	}
	modeStr := cfg.Backtest.AllocationMode
	if *mode != "" {
		modeStr = *mode
	}
	runCfg.Mode, err = backtest.ParseAllocationMode(strings.ToUpper(modeStr))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid allocation mode")
	}
	if *capital > 0 {
		runCfg.StartingCapital = *capital
	}
	if *holdDays > 0 {
		runCfg.HoldPeriodDays = *holdDays
	}
	if *tickers != "" {
		for _, t := range strings.Split(*tickers, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				runCfg.Tickers = append(runCfg.Tickers, t)
			}
		}
	}

	ctx := context.Background()
	database, err := db.New(ctx, cfg.Database.GetDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	historyDays := int(time.Since(start).Hours()/24) + runCfg.HoldPeriodDays + 7
	engine := backtest.NewEngine(
		db.NewSignalStore(database.Pool()),
		db.NewBacktestStore(database.Pool()),
		backtest.NewHistoryCache(market.NewYahooClient(10*time.Second), historyDays),
		log.Logger,
	)

	result, err := engine.Run(ctx, runCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}

	fmt.Println(backtest.Report(result.Run, result.Metrics))
}
