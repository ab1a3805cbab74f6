package vectorindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// searchesTotal counts similarity searches by result.
	// Labels: result (success, error)
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icmemd",
			Subsystem: "vectorindex",
			Name:      "searches_total",
			Help:      "Total number of similarity searches",
		},
		[]string{"result"},
	)

	// searchDuration tracks similarity search latency.
	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "icmemd",
			Subsystem: "vectorindex",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// chunksIndexedTotal counts chunks written to the index.
	chunksIndexedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "icmemd",
			Subsystem: "vectorindex",
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks written to the index",
		},
	)

	// isolationViolationsTotal counts storage-boundary audit failures.
	// Any nonzero value indicates a defect in a query path.
	isolationViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "icmemd",
			Subsystem: "vectorindex",
			Name:      "isolation_violations_total",
			Help:      "Total number of firm isolation violations detected at the storage boundary",
		},
	)
)
