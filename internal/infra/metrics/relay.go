package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(relayRequestsTotal) }

var relayRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "studio_relay_requests_total",
		Help: "Requests forwarded by the relay, by method and upstream status.",
	},
	[]string{"method", "status"},
)

func IncRelayRequest(method string, status int) {
	relayRequestsTotal.WithLabelValues(norm(method), strconv.Itoa(status)).Inc()
}
