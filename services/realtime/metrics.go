package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_sessions_active",
		Help: "Connected realtime sessions.",
	})
	eventsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_handled_total",
		Help: "Change events handled by sessions.",
	}, []string{"table", "type"})
	duplicatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_duplicate_notifications_total",
		Help: "Notifications suppressed because the change was already seen.",
	})
	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnects_total",
		Help: "Forced resubscriptions.",
	})
)

func init() {
	prometheus.MustRegister(sessionsActive, eventsHandled, duplicatesDropped, reconnects)
}
