// Package metrics exposes control-plane counters on a prometheus registry
// served by the dashboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RouterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archi",
		Subsystem: "router",
		Name:      "decisions_total",
		Help:      "Routing outcomes by provider and reason.",
	}, []string{"provider", "reason"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archi",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Response cache hits.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archi",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Response cache misses.",
	})

	BudgetBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archi",
		Subsystem: "budget",
		Name:      "blocked_total",
		Help:      "Remote requests refused by the budget gate.",
	})

	SpendUSD = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archi",
		Subsystem: "budget",
		Name:      "spend_usd_total",
		Help:      "Cumulative recorded spend in USD.",
	})

	DreamCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archi",
		Subsystem: "dream",
		Name:      "cycles_total",
		Help:      "Dream cycles by outcome.",
	}, []string{"outcome"})

	DreamTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archi",
		Subsystem: "dream",
		Name:      "tasks_total",
		Help:      "Tasks executed during dream cycles by result.",
	}, []string{"result"})

	AgentTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archi",
		Subsystem: "agent",
		Name:      "ticks_total",
		Help:      "Agent loop ticks.",
	})

	SchedulerMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "archi",
		Subsystem: "heartbeat",
		Name:      "mode",
		Help:      "Current scheduler mode (one-hot).",
	}, []string{"mode"})
)
