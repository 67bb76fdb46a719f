package changefeed

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changefeed_events_published_total",
		Help: "Change events handed to the transport.",
	}, []string{"transport", "table"})
	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changefeed_events_dropped_total",
		Help: "Change events dropped because a subscriber could not keep up.",
	}, []string{"transport"})
	subscriptionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "changefeed_subscriptions_active",
		Help: "Open change feed subscriptions.",
	}, []string{"transport"})
	cdcRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changefeed_cdc_relayed_total",
		Help: "CDC records relayed from kafka, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDropped, subscriptionsActive, cdcRelayed)
}
