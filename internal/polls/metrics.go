package polls

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "classpoll"
	subsystem        = "polls"
)

var (
	pollsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "created_total",
			Help:      "Total number of polls created",
		},
	)

	pollsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "closed_total",
			Help:      "Total number of polls closed",
		},
		[]string{"trigger"}, // trigger: "timer", "manual", "superseded"
	)

	votesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "votes_total",
			Help:      "Total number of vote submissions",
		},
		[]string{"result"}, // result: "accepted", "replaced", "unchanged", error kind
	)

	exclusionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "exclusions_total",
			Help:      "Total number of participants excluded from polls",
		},
	)

	lockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a per-poll lock",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
