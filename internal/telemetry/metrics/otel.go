package metrics

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// otelProvider is the alternate backend for operators who already run an
// OTel collector and would rather not stand up a second Prometheus scrape
// target. It uses an in-process SDK MeterProvider with no reader or exporter
// attached, so recorded values are not exported anywhere.
type otelProvider struct {
	mp     *sdkmetric.MeterProvider
	meter  metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

func newOTelProvider(namespace string) (Provider, error) {
	mp := sdkmetric.NewMeterProvider()
	return &otelProvider{
		mp:         mp,
		meter:      mp.Meter(namespace),
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}, nil
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func (p *otelProvider) IncCounter(name string, labels map[string]string, delta float64) {
	p.mu.Lock()
	c, ok := p.counters[name]
	if !ok {
		c, _ = p.meter.Float64Counter(name)
		p.counters[name] = c
	}
	p.mu.Unlock()
	c.Add(context.Background(), delta, metric.WithAttributes(toAttrs(labels)...))
}

func (p *otelProvider) SetGauge(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	g, ok := p.gauges[name]
	if !ok {
		g, _ = p.meter.Float64Gauge(name)
		p.gauges[name] = g
	}
	p.mu.Unlock()
	g.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

func (p *otelProvider) ObserveHistogram(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	h, ok := p.histograms[name]
	if !ok {
		h, _ = p.meter.Float64Histogram(name)
		p.histograms[name] = h
	}
	p.mu.Unlock()
	h.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

// Handler is nil: this backend pushes/exports via the SDK's own reader
// rather than serving a pull scrape endpoint.
func (p *otelProvider) Handler() http.Handler { return nil }

func (p *otelProvider) Close() error {
	return p.mp.Shutdown(context.Background())
}
