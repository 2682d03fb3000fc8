package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

// handleListSignals returns signals filtered by status and age.
// ?status takes a comma-separated list (default PENDING,APPROVED,EXECUTED);
// ?days bounds creation time (default 7).
func (s *Server) handleListSignals(c *gin.Context) {
	if s.cfg.Signals == nil {
		serviceUnavailable(c, "signals")
		return
	}

	statuses, err := parseStatuses(c.DefaultQuery("status", "PENDING,APPROVED,EXECUTED"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}

	signals, err := s.cfg.Signals.ListByStatus(c.Request.Context(), statuses, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func parseStatuses(raw string) ([]db.SignalStatus, error) {
	var statuses []db.SignalStatus
	for _, part := range strings.Split(raw, ",") {
		switch status := db.SignalStatus(strings.ToUpper(strings.TrimSpace(part))); status {
		case db.StatusPending, db.StatusApproved, db.StatusExecuted, db.StatusClosed:
			statuses = append(statuses, status)
		default:
			return nil, fmt.Errorf("unknown status %q", part)
		}
	}
	return statuses, nil
}

// handleGetSignal returns one signal with its per-agent analyses
func (s *Server) handleGetSignal(c *gin.Context) {
	if s.cfg.Signals == nil {
		serviceUnavailable(c, "signals")
		return
	}

	id, ok := signalID(c)
	if !ok {
		return
	}

	signal, err := s.cfg.Signals.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	analyses, err := s.cfg.Signals.Analyses(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"signal": signal, "analyses": analyses})
}

func (s *Server) handleApproveSignal(c *gin.Context) {
	s.transitionSignal(c, func(id int64) error {
		return s.cfg.Signals.Approve(c.Request.Context(), id)
	}, db.StatusApproved)
}

func (s *Server) handleExecuteSignal(c *gin.Context) {
	s.transitionSignal(c, func(id int64) error {
		return s.cfg.Signals.Execute(c.Request.Context(), id)
	}, db.StatusExecuted)
}

// handleCloseSignal closes an executed signal with its realized P&L
func (s *Server) handleCloseSignal(c *gin.Context) {
	if s.cfg.Signals == nil {
		serviceUnavailable(c, "signals")
		return
	}

	id, ok := signalID(c)
	if !ok {
		return
	}

	var req struct {
		PnL *float64 `json:"pnl" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pnl is required"})
		return
	}

	if err := s.cfg.Signals.Close(c.Request.Context(), id, *req.PnL); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": db.StatusClosed, "pnl": *req.PnL})
}

func (s *Server) transitionSignal(c *gin.Context, apply func(int64) error, to db.SignalStatus) {
	if s.cfg.Signals == nil {
		serviceUnavailable(c, "signals")
		return
	}

	id, ok := signalID(c)
	if !ok {
		return
	}

	if err := apply(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": to})
}

func signalID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal id"})
		return 0, false
	}
	return id, true
}
