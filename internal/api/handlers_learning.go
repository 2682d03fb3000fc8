package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

func (s *Server) handleGetWeights(c *gin.Context) {
	if s.cfg.Weights == nil {
		serviceUnavailable(c, "learning")
		return
	}

	weights, err := s.cfg.Weights.CurrentWeights(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weights": weights})
}

func (s *Server) handleGetWeightHistory(c *gin.Context) {
	if s.cfg.Weights == nil {
		serviceUnavailable(c, "learning")
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}

	agent := c.Param("agent")
	history, err := s.cfg.Weights.History(c.Request.Context(), agent, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent, "history": history, "count": len(history)})
}

// handleWeightOverride applies a human-set weight, bypassing the optimizer
func (s *Server) handleWeightOverride(c *gin.Context) {
	if s.cfg.Learning == nil {
		serviceUnavailable(c, "learning")
		return
	}

	var req struct {
		Agent  string  `json:"agent" binding:"required"`
		Weight float64 `json:"weight" binding:"required"`
		Reason string  `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent, weight and reason are required"})
		return
	}

	if err := s.cfg.Learning.ManualOverride(c.Request.Context(), req.Agent, req.Weight, req.Reason); err != nil {
		if strings.Contains(err.Error(), "outside") || strings.Contains(err.Error(), "unknown agent") {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": req.Agent, "weight": req.Weight, "reason": req.Reason})
}

func (s *Server) handleGetLearningEvents(c *gin.Context) {
	if s.cfg.Events == nil {
		serviceUnavailable(c, "learning")
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}

	var types []db.LearningEventType
	if raw := c.Query("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			types = append(types, db.LearningEventType(strings.ToUpper(strings.TrimSpace(part))))
		}
	}

	events, err := s.cfg.Events.List(c.Request.Context(), types, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// handleBiasCheck runs the bias detectors without touching weights
func (s *Server) handleBiasCheck(c *gin.Context) {
	if s.cfg.Learning == nil {
		serviceUnavailable(c, "learning")
		return
	}

	findings, err := s.cfg.Learning.CheckBiases(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(findings))
	for _, f := range findings {
		out = append(out, gin.H{
			"bias":      f.Bias,
			"severity":  f.Severity,
			"agents":    f.Agents,
			"reasoning": f.Reasoning,
		})
	}
	c.JSON(http.StatusOK, gin.H{"findings": out, "count": len(out)})
}
