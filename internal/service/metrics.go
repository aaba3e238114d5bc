package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Allocation outcomes used as the outcome label.
const (
	outcomeAllocated        = "allocated"
	outcomeAlreadyAllocated = "already_allocated"
	outcomeOutOfStock       = "out_of_stock"
	outcomeError            = "error"
)

var (
	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocations_total",
		Help: "Total number of allocation attempts by outcome.",
	}, []string{"outcome"})

	allocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocation_duration_seconds",
		Help:    "Time taken to allocate an order line, including the database transaction.",
		Buckets: prometheus.DefBuckets,
	})
)
