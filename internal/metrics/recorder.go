package metrics

import (
	"strings"
	"sync"
)

// Recorder keeps observations in memory. It backs tests and exposes an
// aggregate view through Snapshot.
type Recorder struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]HistogramSnapshot
}

type HistogramSnapshot struct {
	Count int
	Sum   float64
}

type Snapshot struct {
	Counters   map[string]float64
	Gauges     map[string]float64
	Histograms map[string]HistogramSnapshot
}

func NewRecorder() *Recorder {
	return &Recorder{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]HistogramSnapshot),
	}
}

func (r *Recorder) Increment(name string, labels ...Label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[Key(name, labels...)]++
}

func (r *Recorder) Set(name string, value float64, labels ...Label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[Key(name, labels...)] = value
}

func (r *Recorder) Observe(name string, seconds float64, labels ...Label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Key(name, labels...)
	h := r.histograms[key]
	h.Count++
	h.Sum += seconds
	r.histograms[key] = h
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Counters:   make(map[string]float64, len(r.counters)),
		Gauges:     make(map[string]float64, len(r.gauges)),
		Histograms: make(map[string]HistogramSnapshot, len(r.histograms)),
	}
	for k, v := range r.counters {
		s.Counters[k] = v
	}
	for k, v := range r.gauges {
		s.Gauges[k] = v
	}
	for k, v := range r.histograms {
		s.Histograms[k] = v
	}
	return s
}

// Counter returns the summed value of a counter across all label sets.
func (s Snapshot) Counter(name string) float64 {
	var total float64
	for k, v := range s.Counters {
		if k == name || strings.HasPrefix(k, name+"{") {
			total += v
		}
	}
	return total
}

// Key renders a series identity such as orders_total{service="orders"}.
func Key(name string, labels ...Label) string {
	if len(labels) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range sortedLabels(labels) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Key)
		b.WriteString(`="`)
		b.WriteString(l.Value)
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
