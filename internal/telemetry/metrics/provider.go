// Package metrics defines a backend-agnostic Provider so the rest of the
// server (ingestion, clustering rebuilds, adapter health scans) records
// counters/gauges/histograms without caring whether the active backend is
// Prometheus, OpenTelemetry, or nothing at all.
package metrics

import (
	"net/http"
	"time"
)

// Provider is the minimal metrics surface this server needs. Labels are
// passed as a name-to-value map, so call sites need not agree on an order.
type Provider interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)

	// Handler returns an http.Handler serving this backend's scrape/export
	// endpoint, or nil if the backend doesn't expose one (e.g. noop, or an
	// OTel push exporter).
	Handler() http.Handler

	Close() error
}

// Backend selects which concrete Provider to construct, mirroring the
// teacher engine's selectMetricsProvider switch.
type Backend string

const (
	BackendPrometheus Backend = "prometheus"
	BackendOTel       Backend = "otel"
	BackendNoop       Backend = "noop"
)

func Select(backend Backend, namespace string) (Provider, error) {
	switch backend {
	case BackendOTel:
		return newOTelProvider(namespace)
	case BackendNoop, "":
		return newNoopProvider(), nil
	default:
		return newPrometheusProvider(namespace)
	}
}

// Timer is a small helper for histogram-of-duration call sites such as the
// ingestion middleware: "time this block, observe the seconds" without
// repeating time.Since boilerplate.
type Timer struct {
	start time.Time
}

func StartTimer() Timer { return Timer{start: time.Now()} }

func (t Timer) ObserveSeconds(p Provider, name string, labels map[string]string) {
	p.ObserveHistogram(name, labels, time.Since(t.start).Seconds())
}
