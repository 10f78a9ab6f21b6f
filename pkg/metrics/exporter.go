package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/replog-io/replog/util"
)

func init() {
	prometheus.MustRegister(MessagesProcessed, RecordsAppended, RecordsPolled)
	prometheus.MustRegister(RoundsStarted, RoundsResolved, RoundsExpired, RoundsInFlight, RoundDuration)
}

// StartMetricsServer serves /metrics on its own goroutine. The exporter is
// best-effort; a bind failure must not take the node down.
func StartMetricsServer(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("Failed to start metrics server: %v", err)
		}
	}()
}
