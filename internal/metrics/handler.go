package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Mount exposes /metrics on a gin engine
func Mount(r gin.IRouter) {
	r.GET("/metrics", gin.WrapH(Handler()))
}
