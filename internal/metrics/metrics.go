// Package metrics exports client activity as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	eventbus "github.com/hanpama/graphcache/internal/eventbus"
	events "github.com/hanpama/graphcache/internal/events"
)

// Collectors holds the client's metrics.
type Collectors struct {
	Fetches         *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	Broadcasts      prometheus.Counter
	Notifications   prometheus.Counter
	Optimistic      *prometheus.CounterVec
	Inconsistencies prometheus.Counter
}

// New creates the collectors without registering them.
func New() *Collectors {
	return &Collectors{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphcache",
			Name:      "fetches_total",
			Help:      "Operations sent to the transport.",
		}, []string{"operation_type", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphcache",
			Name:      "fetch_duration_seconds",
			Help:      "Transport round trip time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation_type"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphcache",
			Name:      "cache_lookups_total",
			Help:      "Queries checked against the cache.",
		}, []string{"result"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphcache",
			Name:      "broadcasts_total",
			Help:      "Store changes propagated to watchers.",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphcache",
			Name:      "watcher_notifications_total",
			Help:      "Results delivered to watchers.",
		}),
		Optimistic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphcache",
			Name:      "optimistic_layers_total",
			Help:      "Optimistic layers by outcome.",
		}, []string{"outcome"}),
		Inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphcache",
			Name:      "store_inconsistencies_total",
			Help:      "Reads that met a dangling reference.",
		}),
	}
}

// Register registers the collectors with reg and feeds them from the global
// event bus until unsubscribe is called.
func Register(reg prometheus.Registerer) (c *Collectors, unsubscribe func(), err error) {
	c = New()
	for _, col := range []prometheus.Collector{
		c.Fetches, c.FetchDuration, c.CacheLookups, c.Broadcasts,
		c.Notifications, c.Optimistic, c.Inconsistencies,
	} {
		if err := reg.Register(col); err != nil {
			return nil, nil, err
		}
	}
	return c, c.subscribe(), nil
}

func (c *Collectors) subscribe() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.FetchFinish) {
			outcome := "ok"
			switch {
			case e.Err != nil:
				outcome = "network_error"
			case e.ErrorCount > 0:
				outcome = "graphql_error"
			}
			c.Fetches.WithLabelValues(e.OperationType, outcome).Inc()
			c.FetchDuration.WithLabelValues(e.OperationType).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.CacheResult) {
			result := "miss"
			if e.Hit {
				result = "hit"
			}
			c.CacheLookups.WithLabelValues(result).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.Broadcast) {
			c.Broadcasts.Inc()
			c.Notifications.Add(float64(e.Notified))
		}),
		eventbus.Subscribe(func(_ context.Context, e events.OptimisticSettle) {
			outcome := "settled"
			if e.RolledBack {
				outcome = "rolled_back"
			}
			c.Optimistic.WithLabelValues(outcome).Inc()
		}),
		eventbus.Subscribe(func(context.Context, events.StoreInconsistency) {
			c.Inconsistencies.Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
