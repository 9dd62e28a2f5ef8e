package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Change loop counters, gauges and histograms.

var (
	// Watcher
	WatcherTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "watcher",
		Name:      "ticks_total",
		Help:      "Total steady-state ticks",
	})

	WatcherState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ipnotifier",
		Subsystem: "watcher",
		Name:      "state",
		Help:      "Current change loop state (1 for the active state)",
	}, []string{"state"})

	WatcherBlacklistSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "watcher",
		Name:      "blacklist_skips_total",
		Help:      "Total cycles skipped because the candidate matched a blacklist rule",
	})

	WatcherAddressChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "watcher",
		Name:      "address_changes_total",
		Help:      "Total accepted address changes",
	})

	WatcherLastChangeTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ipnotifier",
		Subsystem: "watcher",
		Name:      "last_change_timestamp_seconds",
		Help:      "Unix time of the last accepted address change",
	})

	WatcherBootstrapAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "watcher",
		Name:      "bootstrap_attempts_total",
		Help:      "Total address lookups issued while bootstrapping",
	})

	// Resolver
	ResolverLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "resolver",
		Name:      "lookups_total",
		Help:      "Total address lookups by result",
	}, []string{"result"})

	ResolverLookupErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "resolver",
		Name:      "lookup_errors_total",
		Help:      "Total failed address lookups by classified reason",
	}, []string{"reason"})

	ResolverLookupLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ipnotifier",
		Subsystem: "resolver",
		Name:      "lookup_duration_seconds",
		Help:      "Address lookup duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// Notifier
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "notifier",
		Name:      "notifications_total",
		Help:      "Total notification attempts by result (success, rejected, error)",
	}, []string{"result"})

	NotificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ipnotifier",
		Subsystem: "notifier",
		Name:      "delivery_duration_seconds",
		Help:      "Notification delivery duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// Store
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Total state store failures by operation",
	}, []string{"backend", "op"})

	// Blacklist
	BlacklistInvalidPatterns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ipnotifier",
		Subsystem: "blacklist",
		Name:      "invalid_patterns",
		Help:      "Number of configured blacklist patterns that failed to compile",
	})

	// Admin
	AdminRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipnotifier",
		Subsystem: "admin",
		Name:      "rate_limited_total",
		Help:      "Total status server requests rejected by the rate limiter",
	}, []string{"endpoint"})
)
