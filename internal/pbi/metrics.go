package pbi

import "github.com/prometheus/client_golang/prometheus"

// queryDuration records executeQueries latency (token included) by outcome:
// ok, auth_error or upstream_error.
var queryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pbi_query_duration_seconds",
		Help:    "Duration of BI dataset queries in seconds.",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(queryDuration)
}
