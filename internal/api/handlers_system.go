package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "alpha-machine",
		"version": "1.0.0",
		"status":  "running",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports component health; a failing database probe degrades
// the overall status but still returns 200 so dashboards can read it.
func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "unconfigured"
	overall := "healthy"
	if s.cfg.DB != nil {
		dbStatus = "up"
		if err := s.cfg.DB.Ping(ctx); err != nil {
			dbStatus = "down"
			overall = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": overall,
		"components": gin.H{
			"database":  dbStatus,
			"api":       "up",
			"scheduler": boolStatus(s.cfg.Jobs != nil),
			"learning":  boolStatus(s.cfg.Learning != nil),
			"backtests": boolStatus(s.cfg.Backtests != nil),
		},
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func boolStatus(wired bool) string {
	if wired {
		return "up"
	}
	return "unconfigured"
}

func (s *Server) handleGetWatchlist(c *gin.Context) {
	if s.cfg.Watchlist == nil {
		serviceUnavailable(c, "watchlist")
		return
	}

	tickers, err := s.cfg.Watchlist.ActiveTickers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickers": tickers, "count": len(tickers)})
}

func (s *Server) handleAddTicker(c *gin.Context) {
	if s.cfg.Watchlist == nil {
		serviceUnavailable(c, "watchlist")
		return
	}

	var req struct {
		Ticker string `json:"ticker" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker is required"})
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker is required"})
		return
	}

	if err := s.cfg.Watchlist.Add(c.Request.Context(), ticker); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ticker": ticker, "active": true})
}

func (s *Server) handleRemoveTicker(c *gin.Context) {
	if s.cfg.Watchlist == nil {
		serviceUnavailable(c, "watchlist")
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	if err := s.cfg.Watchlist.Deactivate(c.Request.Context(), ticker); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "active": false})
}

// handleTriggerJob runs a scheduler job synchronously and reports its result
func (s *Server) handleTriggerJob(c *gin.Context) {
	if s.cfg.Jobs == nil {
		serviceUnavailable(c, "scheduler")
		return
	}

	name := c.Param("name")
	if err := s.cfg.Jobs.Trigger(c.Request.Context(), name); err != nil {
		if strings.Contains(err.Error(), "unknown job") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": name, "status": "completed"})
}
