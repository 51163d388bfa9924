package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	Sends         *prometheus.CounterVec
	Saves         *prometheus.CounterVec
	SessionCost   prometheus.Counter
	TargetSwitch  *prometheus.CounterVec
	ImagesStaged  prometheus.Counter
	StoreFailures prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process-wide metrics registered on the default registry.
func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(
			global.CacheHits,
			global.CacheMisses,
			global.Sends,
			global.Saves,
			global.SessionCost,
			global.TargetSwitch,
			global.ImagesStaged,
			global.StoreFailures,
		)
	})
	return global
}

// New returns unregistered metrics, for tests and custom registries.
func New() *Metrics {
	return &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoai",
			Name:      "cache_hits_total",
			Help:      "Fetches served from the local cache store",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoai",
			Name:      "cache_misses_total",
			Help:      "Fetches that went to the network because the entry was missing or stale",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoai",
			Name:      "chat_sends_total",
			Help:      "Chat send cycles by outcome",
		}, []string{"outcome"}),
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoai",
			Name:      "saves_total",
			Help:      "Workspace saves by target kind and outcome",
		}, []string{"kind", "outcome"}),
		SessionCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoai",
			Name:      "session_cost_usd_total",
			Help:      "Accumulated AI cost reported by the backend",
		}),
		TargetSwitch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoai",
			Name:      "target_switches_total",
			Help:      "Target change operations by outcome",
		}, []string{"outcome"}),
		ImagesStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoai",
			Name:      "images_staged_total",
			Help:      "Images compressed and staged for sending",
		}),
		StoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoai",
			Name:      "store_failures_total",
			Help:      "Local store reads or writes that failed and were dropped",
		}),
	}
}
