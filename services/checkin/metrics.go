package checkin

import "github.com/prometheus/client_golang/prometheus"

var (
	checkInsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkins_processed_total",
		Help: "Check-in requests by outcome.",
	}, []string{"outcome"})
	streakTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streak_transitions_total",
		Help: "Streak stage reached by recorded check-ins.",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(checkInsProcessed, streakTransitions)
}
