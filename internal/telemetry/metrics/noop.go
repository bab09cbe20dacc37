package metrics

import "net/http"

type noopProvider struct{}

func newNoopProvider() Provider { return noopProvider{} }

func (noopProvider) IncCounter(string, map[string]string, float64)      {}
func (noopProvider) SetGauge(string, map[string]string, float64)        {}
func (noopProvider) ObserveHistogram(string, map[string]string, float64) {}
func (noopProvider) Handler() http.Handler                               { return nil }
func (noopProvider) Close() error                                        { return nil }
