package notify

import "github.com/prometheus/client_golang/prometheus"

var sendsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telegram_sends_total",
		Help: "sendMessage attempts by result (ok|failed|rate_limited).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(sendsTotal)
}
