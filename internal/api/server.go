// Package api is the HTTP surface: signal lifecycle, backtest runs, learning
// status and overrides, watchlist management, and on-demand job triggers. It
// is a thin gin layer over the stores and services; no business rules live
// here.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zurychhh/alpha-machine-sub000/internal/backtest"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/learning"
	"github.com/zurychhh/alpha-machine-sub000/internal/metrics"
)

// SignalStore is the signal persistence surface the API exposes
type SignalStore interface {
	Get(ctx context.Context, id int64) (*db.StoredSignal, error)
	ListByStatus(ctx context.Context, statuses []db.SignalStatus, sinceDays int) ([]db.StoredSignal, error)
	Analyses(ctx context.Context, signalID int64) ([]db.AgentAnalysis, error)
	Approve(ctx context.Context, id int64) error
	Execute(ctx context.Context, id int64) error
	Close(ctx context.Context, id int64, pnl float64) error
}

// WatchlistStore manages the analyzed ticker set
type WatchlistStore interface {
	ActiveTickers(ctx context.Context) ([]string, error)
	Add(ctx context.Context, ticker string) error
	Deactivate(ctx context.Context, ticker string) error
}

// BacktestRunner executes one backtest
type BacktestRunner interface {
	Run(ctx context.Context, cfg backtest.Config) (*backtest.Result, error)
}

// BacktestReader loads persisted runs
type BacktestReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*db.BacktestRun, error)
	Trades(ctx context.Context, backtestID uuid.UUID) ([]db.BacktestTrade, error)
}

// LearningService is the learning surface: manual overrides and on-demand
// bias checks.
type LearningService interface {
	ManualOverride(ctx context.Context, agentName string, weight float64, reason string) error
	CheckBiases(ctx context.Context) ([]learning.Finding, error)
}

// WeightReader exposes current and historical agent weights
type WeightReader interface {
	CurrentWeights(ctx context.Context) (map[string]float64, error)
	History(ctx context.Context, agentName string, days int) ([]db.AgentWeight, error)
}

// LearningLog reads the learning audit trail
type LearningLog interface {
	List(ctx context.Context, types []db.LearningEventType, sinceDays int) ([]db.LearningEvent, error)
}

// JobRunner triggers scheduler jobs on demand
type JobRunner interface {
	Trigger(ctx context.Context, name string) error
}

// Pinger is the database liveness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the server's dependencies. Nil services disable their routes'
// functionality gracefully (503).
type Config struct {
	Host string
	Port int

	DB        Pinger
	Signals   SignalStore
	Watchlist WatchlistStore
	Backtests BacktestRunner
	Runs      BacktestReader
	Learning  LearningService
	Weights   WeightReader
	Events    LearningLog
	Jobs      JobRunner
}

// Server is the REST API server
type Server struct {
	router *gin.Engine
	cfg    Config
	addr   string
	server *http.Server
}

// NewServer builds the router and registers all routes
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router: router,
		cfg:    cfg,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	s.setupRoutes()
	return s
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until the listener fails or Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}

// LoggerMiddleware logs every request through zerolog
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request")
	}
}
