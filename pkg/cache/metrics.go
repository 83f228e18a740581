package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitestats",
		Subsystem: "readthrough",
		Name:      "hits_total",
		Help:      "read-through cache hits",
	}, []string{"cache"})

	missesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitestats",
		Subsystem: "readthrough",
		Name:      "misses_total",
		Help:      "read-through cache misses",
	}, []string{"cache"})
)
