// Package metrics defines the write-only telemetry contract used by every
// pipeline stage. Recording an observation never fails and never feeds back
// into control flow.
package metrics

import "sort"

// Label is a single metric dimension.
type Label struct {
	Key   string
	Value string
}

func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

type Sink interface {
	Increment(name string, labels ...Label)
	Set(name string, value float64, labels ...Label)
	Observe(name string, seconds float64, labels ...Label)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) Increment(string, ...Label)        {}
func (Nop) Set(string, float64, ...Label)     {}
func (Nop) Observe(string, float64, ...Label) {}

// WithLabels returns a sink that appends fixed labels to every observation.
func WithLabels(sink Sink, labels ...Label) Sink {
	if len(labels) == 0 {
		return sink
	}
	return &labeled{sink: sink, labels: labels}
}

type labeled struct {
	sink   Sink
	labels []Label
}

func (l *labeled) Increment(name string, labels ...Label) {
	l.sink.Increment(name, l.merge(labels)...)
}

func (l *labeled) Set(name string, value float64, labels ...Label) {
	l.sink.Set(name, value, l.merge(labels)...)
}

func (l *labeled) Observe(name string, seconds float64, labels ...Label) {
	l.sink.Observe(name, seconds, l.merge(labels)...)
}

func (l *labeled) merge(labels []Label) []Label {
	out := make([]Label, 0, len(l.labels)+len(labels))
	out = append(out, l.labels...)
	return append(out, labels...)
}

func sortedLabels(labels []Label) []Label {
	out := make([]Label, len(labels))
	copy(out, labels)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
