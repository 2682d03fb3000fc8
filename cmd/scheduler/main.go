// The scheduler daemon runs the full pipeline: market data refresh, signal
// generation, performance analysis, weight optimization, and the morning
// digest, all on market-hours-aware cadences.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zurychhh/alpha-machine-sub000/internal/agents"
	"github.com/zurychhh/alpha-machine-sub000/internal/alerts"
	"github.com/zurychhh/alpha-machine-sub000/internal/config"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/ensemble"
	"github.com/zurychhh/alpha-machine-sub000/internal/events"
	"github.com/zurychhh/alpha-machine-sub000/internal/learning"
	"github.com/zurychhh/alpha-machine-sub000/internal/llm"
	"github.com/zurychhh/alpha-machine-sub000/internal/market"
	"github.com/zurychhh/alpha-machine-sub000/internal/metrics"
	"github.com/zurychhh/alpha-machine-sub000/internal/reliability"
	"github.com/zurychhh/alpha-machine-sub000/internal/scheduler"
	signalsvc "github.com/zurychhh/alpha-machine-sub000/internal/signal"
)

// regimeMarket composes the raw quote/history provider with the local
// indicator calculator into the regime detector's read surface.
type regimeMarket struct {
	*market.YahooClient
	*market.LocalIndicators
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("environment", cfg.App.Environment).
		Str("timezone", cfg.Scheduler.Timezone).
		Msg("Starting scheduler daemon")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database and stores.
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

	// Redis cache. A missing cache degrades to direct provider calls.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var cache *market.DataCache
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, running without market data cache")
		redisClient = nil
	} else {
		cache = market.NewDataCache(redisClient, 0, 0)
	}

	// Event bus. Optional: consumers poll the database when NATS is down.
	var bus *events.Bus
	if b, err := events.NewBus(events.Config{NATSURL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix}); err != nil {
		log.Warn().Err(err).Msg("NATS unavailable, domain events disabled")
	} else {
		bus = b
		defer bus.Close()
	}

	// Market data service.
	breakers := reliability.NewBreakerRegistry(reliability.DefaultBreakerSettings())
	yahoo := market.NewYahooClient(10 * time.Second)
	indicators := market.NewLocalIndicators(yahoo)
	sentiment := market.NewSentimentAggregator(nil, nil)
	dataService := market.NewDataService(yahoo, yahoo, indicators, sentiment, cache, breakers)

	// Agent ensemble.
	generator := ensemble.NewGenerator(cfg.Agents.GetAgentDeadline())
	if cfg.Agents.RuleBasedEnabled {
		generator.Register(agents.NewRuleBasedAgent("RuleBasedAgent", agentWeight(cfg, "RuleBasedAgent"), nil))
	}
	if cfg.Agents.ContrarianEnabled || cfg.Agents.GrowthEnabled {
		llmClient := llm.NewClient(llm.ClientConfig{
			Endpoint:      cfg.LLM.Endpoint,
			APIKey:        cfg.LLM.APIKey,
			Model:         cfg.LLM.PrimaryModel,
			Temperature:   cfg.LLM.Temperature,
			MaxTokens:     cfg.LLM.MaxTokens,
			Timeout:       cfg.LLM.GetTimeout(),
			RatePerMinute: cfg.LLM.RatePerMinute,
		})
		llmBreakers := reliability.NewBreakerRegistry(reliability.LLMBreakerSettings())
		if cfg.Agents.ContrarianEnabled {
			persona := agents.ContrarianPersona(cfg.LLM.PrimaryModel)
			generator.Register(agents.NewLLMAgent(persona, agentWeight(cfg, persona.Name), llmClient, llmBreakers))
		}
		if cfg.Agents.GrowthEnabled {
			persona := agents.GrowthPersona(cfg.LLM.PrimaryModel)
			generator.Register(agents.NewLLMAgent(persona, agentWeight(cfg, persona.Name), llmClient, llmBreakers))
		}
	}

	// Restore persisted weights so a restart does not reset the ensemble.
	if weights, err := weightStore.CurrentWeights(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to load persisted weights, using configured defaults")
	} else {
		for name, w := range weights {
			if !generator.SetWeight(name, w) {
				log.Warn().Str("agent", name).Msg("Persisted weight for unregistered agent")
			}
		}
	}

	// Alerts.
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Alerts.TelegramEnabled {
		tg, err := alerts.NewTelegramAlerter(cfg.Alerts.TelegramToken, []int64{cfg.Alerts.TelegramChatID})
		if err != nil {
			log.Warn().Err(err).Msg("Telegram alerter unavailable")
		} else {
			alerters = append(alerters, tg)
		}
	}
	alertManager := alerts.NewManager(alerters...)

	// Signal persistence and learning.
	var publisher signalsvc.Publisher
	var loopPublisher learning.Publisher
	if bus != nil {
		publisher = bus
		loopPublisher = bus
	}
	signalService := signalsvc.NewService(signalStore, alertManager, publisher, cfg.Signals.PortfolioValue, log.Logger)

	regimeDetector := learning.NewRegimeDetector(regimeMarket{yahoo, indicators}, log.Logger)
	loop := learning.NewLoop(signalStore, weightStore, learningLog, sysConfig, regimeDetector, alertManager, loopPublisher, log.Logger)

	// Pipeline and scheduler.
	pipeline := scheduler.NewPipeline(
		dataService,
		watchlistStore,
		generator,
		signalService,
		signalStore,
		loop,
		weightStore,
		alertManager,
		cfg.Scheduler.Workers,
		log.Logger,
	)

	sched := scheduler.New(
		cfg.Scheduler.Location(),
		cfg.Scheduler.Workers,
		time.Duration(cfg.Scheduler.JobDeadline)*time.Minute,
		log.Logger,
	)
	sched.RegisterPipeline(
		pipeline,
		time.Duration(cfg.Scheduler.MarketDataInterval)*time.Minute,
		time.Duration(cfg.Scheduler.SentimentInterval)*time.Minute,
	)

	// Monitoring.
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, config.NewLogger("metrics"))
		metricsServer.Start()
		if redisClient != nil {
			go metrics.NewPoolWatcher(redisClient, 30*time.Second, config.NewLogger("metrics")).Start(ctx)
		}
	}

	sched.Start(ctx)
	log.Info().Msg("Scheduler running")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	log.Info().Msg("Scheduler stopped")
}

func agentWeight(cfg *config.Config, name string) float64 {
	if w, ok := cfg.Agents.Weights[name]; ok && w > 0 {
		return w
	}
	return 1.0
}
