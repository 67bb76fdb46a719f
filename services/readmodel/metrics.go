package readmodel

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "readmodel_cache_lookups_total",
		Help: "Read model cache lookups by kind and result.",
	}, []string{"kind", "result"})
	invalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "readmodel_invalidations_total",
		Help: "Read model keys invalidated.",
	})
	staleWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "readmodel_stale_writes_skipped_total",
		Help: "Computed read models dropped because the key was invalidated meanwhile.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(cacheLookups, invalidations, staleWrites)
}
