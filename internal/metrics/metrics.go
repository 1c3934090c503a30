package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permission_checks_total",
		Help: "Permission checks performed, by outcome.",
	}, []string{"outcome"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permission_cache_hits_total",
		Help: "Effective-permission cache hits.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permission_cache_misses_total",
		Help: "Effective-permission cache misses.",
	})

	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permission_mutations_total",
		Help: "Permission store mutations, by action.",
	}, []string{"action"})

	AdminBypassTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "permission_admin_bypass_total",
		Help: "Checks short-circuited by the administrator override.",
	})
)
