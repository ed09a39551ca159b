package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleMetrics serves the gatherer resolved at Start in the Prometheus
// exposition format.
func (g *Gateway) handleMetrics() http.Handler {
	return promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{
		ErrorLog: slogErrorLog{g},
	})
}

// slogErrorLog adapts the gateway logger to promhttp.Logger.
type slogErrorLog struct{ g *Gateway }

func (l slogErrorLog) Println(v ...any) {
	l.g.logger.Error("gateway: metrics handler error", "detail", v)
}
