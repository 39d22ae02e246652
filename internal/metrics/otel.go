package metrics

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DurationBuckets are the histogram boundaries used for processing durations.
var DurationBuckets = []float64{0.1, 0.5, 1, 2, 5}

// OTelSink records observations on an OpenTelemetry meter. Instruments are
// created on first use and cached by name.
type OTelSink struct {
	meter  metric.Meter
	logger *slog.Logger

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

func NewOTelSink(meter metric.Meter, logger *slog.Logger) *OTelSink {
	return &OTelSink{
		meter:      meter,
		logger:     logger,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (s *OTelSink) Increment(name string, labels ...Label) {
	counter, ok := s.counter(name)
	if !ok {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attributes(labels)...))
}

func (s *OTelSink) Set(name string, value float64, labels ...Label) {
	gauge, ok := s.gauge(name)
	if !ok {
		return
	}
	gauge.Record(context.Background(), value, metric.WithAttributes(attributes(labels)...))
}

func (s *OTelSink) Observe(name string, seconds float64, labels ...Label) {
	histogram, ok := s.histogram(name)
	if !ok {
		return
	}
	histogram.Record(context.Background(), seconds, metric.WithAttributes(attributes(labels)...))
}

func (s *OTelSink) counter(name string) (metric.Float64Counter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[name]; ok {
		return c, true
	}
	c, err := s.meter.Float64Counter(name)
	if err != nil {
		s.logger.Warn("failed to create counter", "name", name, "error", err)
		return nil, false
	}
	s.counters[name] = c
	return c, true
}

func (s *OTelSink) gauge(name string) (metric.Float64Gauge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.gauges[name]; ok {
		return g, true
	}
	g, err := s.meter.Float64Gauge(name)
	if err != nil {
		s.logger.Warn("failed to create gauge", "name", name, "error", err)
		return nil, false
	}
	s.gauges[name] = g
	return g, true
}

func (s *OTelSink) histogram(name string) (metric.Float64Histogram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.histograms[name]; ok {
		return h, true
	}
	h, err := s.meter.Float64Histogram(name,
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DurationBuckets...),
	)
	if err != nil {
		s.logger.Warn("failed to create histogram", "name", name, "error", err)
		return nil, false
	}
	s.histograms[name] = h
	return h, true
}

func attributes(labels []Label) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for _, l := range labels {
		attrs = append(attrs, attribute.String(l.Key, l.Value))
	}
	return attrs
}
