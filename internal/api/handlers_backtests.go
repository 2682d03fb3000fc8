package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zurychhh/alpha-machine-sub000/internal/backtest"
)

const backtestDateLayout = "2006-01-02"

type backtestRequest struct {
	Start           string   `json:"start" binding:"required"`
	End             string   `json:"end" binding:"required"`
	Mode            string   `json:"mode"`
	StartingCapital float64  `json:"starting_capital"`
	HoldPeriodDays  int      `json:"hold_period_days"`
	Tickers         []string `json:"tickers"`
}

// handleRunBacktest runs a backtest synchronously and returns the full
// result. Runs over long ranges can take a while; the caller's context
// bounds them.
func (s *Server) handleRunBacktest(c *gin.Context) {
	if s.cfg.Backtests == nil {
		serviceUnavailable(c, "backtest")
		return
	}

	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start and end dates are required"})
		return
	}

	start, err := time.Parse(backtestDateLayout, req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD"})
		return
	}
	end, err := time.Parse(backtestDateLayout, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be YYYY-MM-DD"})
		return
	}
	if !end.After(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be after start"})
		return
	}

	if req.Mode == "" {
		req.Mode = string(backtest.ModeBalanced)
	}
	mode, err := backtest.ParseAllocationMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := backtest.Config{
		Start:           start,
		End:             end,
		Mode:            mode,
		StartingCapital: req.StartingCapital,
		HoldPeriodDays:  req.HoldPeriodDays,
		Tickers:         req.Tickers,
	}

	result, err := s.cfg.Backtests.Run(c.Request.Context(), cfg)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"run":     result.Run,
		"metrics": result.Metrics,
		"trades":  len(result.Trades),
	})
}

func (s *Server) handleGetBacktest(c *gin.Context) {
	if s.cfg.Runs == nil {
		serviceUnavailable(c, "backtest")
		return
	}

	id, ok := backtestID(c)
	if !ok {
		return
	}

	run, err := s.cfg.Runs.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetBacktestTrades(c *gin.Context) {
	if s.cfg.Runs == nil {
		serviceUnavailable(c, "backtest")
		return
	}

	id, ok := backtestID(c)
	if !ok {
		return
	}

	trades, err := s.cfg.Runs.Trades(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func backtestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backtest id"})
		return uuid.Nil, false
	}
	return id, true
}
