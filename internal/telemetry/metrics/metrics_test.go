package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrometheusProviderScrapeExposesMetric(t *testing.T) {
	p, err := Select(BackendPrometheus, "test")
	require.NoError(t, err)
	defer p.Close()

	p.IncCounter("requests_total", map[string]string{"route": "/race"}, 1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "test_requests_total")
}

func TestNoopProviderDoesNothing(t *testing.T) {
	p, err := Select(BackendNoop, "test")
	require.NoError(t, err)
	p.IncCounter("x", nil, 1)
	p.SetGauge("y", nil, 2)
	p.ObserveHistogram("z", nil, 3)
	require.Nil(t, p.Handler())
	require.NoError(t, p.Close())
}

func TestOTelProviderRecordsWithoutPanicking(t *testing.T) {
	p, err := Select(BackendOTel, "test")
	require.NoError(t, err)
	defer p.Close()
	p.IncCounter("requests_total", map[string]string{"route": "/race"}, 1)
	p.SetGauge("active", nil, 5)
	p.ObserveHistogram("duration", nil, 0.5)
	require.Nil(t, p.Handler())
}
