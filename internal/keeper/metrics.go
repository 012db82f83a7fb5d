package keeper

import "github.com/prometheus/client_golang/prometheus"

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stoker_keepalive_polls_total",
			Help: "Total number of keepalive poll cycles by outcome.",
		},
		[]string{"result"},
	)

	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stoker_keepalive_restarts_total",
			Help: "Total number of codespace restarts issued by the keeper.",
		},
	)

	expiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stoker_keepalive_expired_total",
			Help: "Total number of keepalive tasks that reached their window end.",
		},
	)

	activeTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stoker_keepalive_active_tasks",
			Help: "Number of keepalive tasks currently tracked.",
		},
	)
)

func init() {
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(restartsTotal)
	prometheus.MustRegister(expiredTotal)
	prometheus.MustRegister(activeTasks)
}
