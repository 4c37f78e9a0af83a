package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(storeOpsTotal, dbPoolStats) }

var storeOpsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "studio_store_ops_total",
		Help: "Image store operations, by backend, op and status.",
	},
	[]string{"backend", "op", "status"}, // status: ok | error | not_found
)

var dbPoolStats = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "studio_db_pool_stats",
		Help: "Current state of the database connection pool.",
	},
	[]string{"state"}, // 'total', 'idle', 'in_use'
)

func IncStoreOp(backend, op, status string) {
	storeOpsTotal.WithLabelValues(norm(backend), norm(op), norm(status)).Inc()
}

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}
