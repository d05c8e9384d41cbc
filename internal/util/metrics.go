package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sambatan_pools_created_total",
		Help: "Total number of group-buy pools created",
	})

	PoolJoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sambatan_pool_joins_total",
		Help: "Total number of accepted pool joins (including amends)",
	})

	PoolJoinsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sambatan_pool_joins_rejected_total",
		Help: "Total number of rejected pool joins",
	}, []string{"reason"})

	PoolLeavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sambatan_pool_leaves_total",
		Help: "Total number of reservations withdrawn",
	})

	PoolsFilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sambatan_pools_filled_total",
		Help: "Total number of pools that reached their target",
	})

	PoolsExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sambatan_pools_expired_total",
		Help: "Total number of pools closed by the deadline sweep",
	}, []string{"outcome"})

	PoolsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sambatan_pools_cancelled_total",
		Help: "Total number of pools cancelled by seller or admin",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders materialized",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of committed order transitions",
	}, []string{"action", "to"})

	OrderTransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Total number of rejected order transitions",
	}, []string{"reason"})

	RefundsRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_requested_total",
		Help: "Total number of refund intents queued",
	})

	FinalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_finalizations_total",
		Help: "Total number of pool finalizations by kind",
	}, []string{"kind"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deadline_sweep_duration_seconds",
		Help:    "Latency of deadline sweep passes",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
