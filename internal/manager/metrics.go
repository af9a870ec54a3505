package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bindery_workspace_refresh_total",
			Help: "Number of refresh passes by mode.",
		},
		[]string{"mode"},
	)
	refreshErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bindery_workspace_refresh_error_total",
			Help: "Number of aborted refresh passes by reason.",
		},
		[]string{"reason"},
	)

	descriptorReadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bindery_workspace_descriptor_reads_total",
			Help: "Total number of descriptors re-read in phase 1.",
		},
	)
	resolutionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bindery_workspace_resolutions_total",
			Help: "Total number of module resolutions in phase 2.",
		},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bindery_workspace_refresh_duration_seconds",
			Help:    "Time taken by a refresh pass, including publish.",
			Buckets: prometheus.DefBuckets,
		},
	)

	modulesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bindery_workspace_modules",
			Help: "Number of modules in the published snapshot.",
		},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bindery_workspace_pending_requests",
			Help: "Number of update requests waiting for the refresh job.",
		},
	)
	coalescedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bindery_workspace_coalesced_requests_total",
			Help: "Total number of update requests folded into a refresh job pass.",
		},
	)
	persistErrorTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bindery_workspace_persist_error_total",
			Help: "Total number of snapshot writes that failed.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		refreshTotal,
		refreshErrorTotal,
		descriptorReadsTotal,
		resolutionsTotal,
		refreshDuration,
		modulesGauge,
		pendingRequests,
		coalescedRequestsTotal,
		persistErrorTotal,
	)
}
