package api

import "github.com/zurychhh/alpha-machine-sub000/internal/metrics"

// setupRoutes registers the route table
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	metrics.Mount(s.router)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)

		signals := v1.Group("/signals")
		{
			signals.GET("", s.handleListSignals)
			signals.GET("/:id", s.handleGetSignal)
			signals.POST("/:id/approve", s.handleApproveSignal)
			signals.POST("/:id/execute", s.handleExecuteSignal)
			signals.POST("/:id/close", s.handleCloseSignal)
		}

		watchlist := v1.Group("/watchlist")
		{
			watchlist.GET("", s.handleGetWatchlist)
			watchlist.POST("", s.handleAddTicker)
			watchlist.DELETE("/:ticker", s.handleRemoveTicker)
		}

		backtests := v1.Group("/backtests")
		{
			backtests.POST("", s.handleRunBacktest)
			backtests.GET("/:id", s.handleGetBacktest)
			backtests.GET("/:id/trades", s.handleGetBacktestTrades)
		}

		learning := v1.Group("/learning")
		{
			learning.GET("/weights", s.handleGetWeights)
			learning.GET("/weights/:agent/history", s.handleGetWeightHistory)
			learning.POST("/override", s.handleWeightOverride)
			learning.GET("/events", s.handleGetLearningEvents)
			learning.POST("/bias-check", s.handleBiasCheck)
		}

		v1.POST("/jobs/:name/trigger", s.handleTriggerJob)
	}
}
