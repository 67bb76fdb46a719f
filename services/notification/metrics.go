package notification

import "github.com/prometheus/client_golang/prometheus"

var dispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "notifications_total",
	Help: "Notifications by kind and result.",
}, []string{"kind", "result"})

func init() {
	prometheus.MustRegister(dispatched)
}
