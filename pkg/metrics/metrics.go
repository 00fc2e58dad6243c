// Package metrics bundles the pipeline's Prometheus collectors. A nil
// *Metrics is a valid no-op receiver, so callers never need to guard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the crawl pipeline's collectors on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	PagesFetchedTotal  *prometheus.CounterVec
	FetchDuration      prometheus.Histogram
	ItemsAcceptedTotal *prometheus.CounterVec
	ItemsRejectedTotal *prometheus.CounterVec
	ImagesSavedTotal   *prometheus.CounterVec
	UploadsTotal       *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
}

// New constructs and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pagesFetched := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jewelry_pages_fetched_total",
			Help: "Listing and product pages fetched, by site.",
		},
		[]string{"site"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jewelry_fetch_duration_seconds",
			Help:    "HTTP fetch latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsAccepted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jewelry_items_accepted_total",
			Help: "Items that passed validation and were persisted, by site and category.",
		},
		[]string{"site", "category"},
	)
	itemsRejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jewelry_items_rejected_total",
			Help: "Items rejected by validation, by site.",
		},
		[]string{"site"},
	)
	imagesSaved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jewelry_images_saved_total",
			Help: "Product images downloaded and enhanced, by site.",
		},
		[]string{"site"},
	)
	uploads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jewelry_uploads_total",
			Help: "Delivery-service uploads by outcome (ok, rate_limited, error).",
		},
		[]string{"outcome"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jewelry_errors_total",
			Help: "Pipeline errors by category.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(
		pagesFetched, fetchDuration, itemsAccepted, itemsRejected,
		imagesSaved, uploads, errorsTotal,
	)

	return &Metrics{
		Registry:           registry,
		PagesFetchedTotal:  pagesFetched,
		FetchDuration:      fetchDuration,
		ItemsAcceptedTotal: itemsAccepted,
		ItemsRejectedTotal: itemsRejected,
		ImagesSavedTotal:   imagesSaved,
		UploadsTotal:       uploads,
		ErrorsTotal:        errorsTotal,
	}
}

// IncPageFetched counts one fetched page for a site.
func (m *Metrics) IncPageFetched(site string) {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.WithLabelValues(site).Inc()
}

// ObserveFetchDuration records one fetch's latency.
func (m *Metrics) ObserveFetchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncItemAccepted counts one accepted item.
func (m *Metrics) IncItemAccepted(site, category string) {
	if m == nil {
		return
	}
	m.ItemsAcceptedTotal.WithLabelValues(site, category).Inc()
}

// IncItemRejected counts one item rejected by validation.
func (m *Metrics) IncItemRejected(site string) {
	if m == nil {
		return
	}
	m.ItemsRejectedTotal.WithLabelValues(site).Inc()
}

// IncImageSaved counts one downloaded and enhanced image.
func (m *Metrics) IncImageSaved(site string) {
	if m == nil {
		return
	}
	m.ImagesSavedTotal.WithLabelValues(site).Inc()
}

// IncUpload counts one upload attempt by outcome.
func (m *Metrics) IncUpload(outcome string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(outcome).Inc()
}

// IncError counts one error under its category label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
