package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// prometheusProvider wraps a dedicated registry (not the global default one)
// so multiple test instances of the server don't collide on metric names,
// and lazily registers each metric name the first time it's observed since
// callers don't pre-declare their metric set up front.
type prometheusProvider struct {
	namespace string
	registry  *prometheus.Registry
	handler   http.Handler

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func newPrometheusProvider(namespace string) (Provider, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return &prometheusProvider{
		namespace:  namespace,
		registry:   reg,
		handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

func (p *prometheusProvider) fqName(name string) string {
	return fmt.Sprintf("%s_%s", p.namespace, name)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (p *prometheusProvider) IncCounter(name string, labels map[string]string, delta float64) {
	p.mu.Lock()
	cv, ok := p.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: p.fqName(name)}, labelNames(labels))
		p.registry.MustRegister(cv)
		p.counters[name] = cv
	}
	p.mu.Unlock()
	cv.With(labels).Add(delta)
}

func (p *prometheusProvider) SetGauge(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	gv, ok := p.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: p.fqName(name)}, labelNames(labels))
		p.registry.MustRegister(gv)
		p.gauges[name] = gv
	}
	p.mu.Unlock()
	gv.With(labels).Set(value)
}

func (p *prometheusProvider) ObserveHistogram(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	hv, ok := p.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    p.fqName(name),
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		p.registry.MustRegister(hv)
		p.histograms[name] = hv
	}
	p.mu.Unlock()
	hv.With(labels).Observe(value)
}

func (p *prometheusProvider) Handler() http.Handler { return p.handler }

func (p *prometheusProvider) Close() error { return nil }
