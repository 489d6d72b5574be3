package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deployd"

var (
	ConvergenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "convergence_total",
		Help:      "The number of resource convergences by kind and action",
	}, []string{"kind", "action"})

	DeployRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deploy_requests_total",
		Help:      "The number of deploy requests by result",
	}, []string{"result"})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "The number of registered websocket connections",
	})

	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_delivered_total",
		Help:      "The number of log events delivered to subscribers",
	})
)

func init() {
	prometheus.MustRegister(ConvergenceTotal, DeployRequestsTotal, WSConnections, EventsDelivered)
	for _, r := range []string{"completed", "started", "failed", "invalid"} {
		DeployRequestsTotal.WithLabelValues(r)
	}
}

// Handler 暴露默认 registry。
func Handler() http.Handler {
	return promhttp.Handler()
}
