package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ActionsTotal counts start/stop requests by final disposition.
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudnap_actions_total",
		Help: "Cluster power actions by cluster, action and outcome",
	}, []string{"cluster", "action", "outcome"})

	// CacheReads counts status cache reads: hit, miss or error.
	CacheReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudnap_cache_reads_total",
		Help: "Status cache reads by result",
	}, []string{"result"})

	// ScheduledFires counts cron job firings by direction.
	ScheduledFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudnap_scheduled_fires_total",
		Help: "Cron job firings by cluster and direction",
	}, []string{"cluster", "direction"})
)

// MustRegister registers all collectors plus a gauge tracking the number of
// in-flight actions.
func MustRegister(inflight func() float64) {
	prometheus.MustRegister(
		ActionsTotal,
		CacheReads,
		ScheduledFires,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cloudnap_inflight_actions",
			Help: "Number of currently in-flight cluster actions",
		}, inflight),
	)
}
