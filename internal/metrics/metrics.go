package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry keeps delivery and platform-call metrics in memory. Numbers are
// served by the stats endpoint; there is no external metrics backend.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*CounterMetric
	timers    map[string]*TimerMetric
	gauges    map[string]float64
	startTime time.Time
}

// CounterMetric is a monotonically increasing count with optional labels.
type CounterMetric struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
}

// TimerMetric aggregates duration samples.
type TimerMetric struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Average float64 `json:"avg_ms"`
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*CounterMetric),
		timers:    make(map[string]*TimerMetric),
		gauges:    make(map[string]float64),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter metric by one.
func (r *Registry) IncrementCounter(name string, labels map[string]string) {
	r.AddToCounter(name, 1, labels)
}

func (r *Registry) AddToCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if counter, exists := r.counters[key]; exists {
		counter.Value += value
		counter.LastUpdate = time.Now()
		return
	}
	r.counters[key] = &CounterMetric{
		Name:       name,
		Value:      value,
		Labels:     copyLabels(labels),
		LastUpdate: time.Now(),
	}
}

// RecordTimer records one duration sample.
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	durationMs := float64(duration.Nanoseconds()) / 1e6

	timer, exists := r.timers[key]
	if !exists {
		r.timers[key] = &TimerMetric{
			Count:   1,
			Sum:     durationMs,
			Min:     durationMs,
			Max:     durationMs,
			Average: durationMs,
		}
		return
	}

	timer.Count++
	timer.Sum += durationMs
	if durationMs < timer.Min {
		timer.Min = durationMs
	}
	if durationMs > timer.Max {
		timer.Max = durationMs
	}
	timer.Average = timer.Sum / float64(timer.Count)
}

// SetGauge sets a gauge metric to an absolute value.
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[metricKey(name, labels)] = value
}

// Snapshot is the JSON shape served by the stats endpoint.
type Snapshot struct {
	UptimeSec float64                   `json:"uptime_sec"`
	Counters  map[string]*CounterMetric `json:"counters"`
	Timers    map[string]*TimerMetric   `json:"timers"`
	Gauges    map[string]float64        `json:"gauges"`
}

func (r *Registry) GetSnapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make(map[string]*CounterMetric, len(r.counters))
	for k, v := range r.counters {
		c := *v
		c.Labels = copyLabels(v.Labels)
		counters[k] = &c
	}
	timers := make(map[string]*TimerMetric, len(r.timers))
	for k, v := range r.timers {
		t := *v
		timers[k] = &t
	}
	gauges := make(map[string]float64, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}

	return Snapshot{
		UptimeSec: time.Since(r.startTime).Seconds(),
		Counters:  counters,
		Timers:    timers,
		Gauges:    gauges,
	}
}

// CounterValue returns the current value of a counter, zero if unknown.
func (r *Registry) CounterValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if counter, exists := r.counters[metricKey(name, labels)]; exists {
		return counter.Value
	}
	return 0
}

// metricKey produces a stable key from a metric name and its labels.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteByte('{')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte('}')
	}
	return sb.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
