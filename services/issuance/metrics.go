package issuance

import "github.com/prometheus/client_golang/prometheus"

var (
	couponsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "issuance_coupons_issued_total",
		Help: "Coupons issued, by source.",
	}, []string{"source"})
	outOfStock = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "issuance_rejected_total",
		Help: "Issuance attempts rejected, by source and reason.",
	}, []string{"source", "reason"})
	drawOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_draw_outcomes_total",
		Help: "Roulette draw results.",
	}, []string{"outcome"})
	drawRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roulette_draw_retries_total",
		Help: "Redraws after the drawn prize ran out.",
	})
)

func init() {
	prometheus.MustRegister(couponsIssued, outOfStock, drawOutcomes, drawRetries)
}
