package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

// respondError maps store errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, db.ErrInvalidTransition), errors.Is(err, db.ErrDuplicateSignal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func serviceUnavailable(c *gin.Context, name string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": name + " service not configured"})
}
