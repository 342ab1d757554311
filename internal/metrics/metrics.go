package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Chat turns by outcome (completed, stopped, failed).",
		},
		[]string{"outcome"},
	)

	gatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_errors_total",
			Help: "Model gateway failures and timeouts.",
		},
		[]string{"model"},
	)

	storeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_failures_total",
			Help: "Transcript store operations that failed.",
		},
		[]string{"op"},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Wall time of a chat turn from receive to persist.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(turnsTotal, gatewayErrors, storeFailures, turnDuration)
}

func Turn(outcome string, elapsed time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(elapsed.Seconds())
}

func GatewayError(model string) {
	gatewayErrors.WithLabelValues(model).Inc()
}

func StoreFailure(op string) {
	storeFailures.WithLabelValues(op).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
