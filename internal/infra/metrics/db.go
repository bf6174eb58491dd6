package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolStats, eventsPublishedTotal) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events published to the message bus, by subject and result.",
		},
		[]string{"subject", "result"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func IncEventPublished(subject string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	eventsPublishedTotal.WithLabelValues(subject, result).Inc()
}
