package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
)

// Metric represents a single metric with its metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// Registry manages all metrics in memory
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Metric
	gauges   map[string]*Metric
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Metric),
		gauges:   make(map[string]*Metric),
	}
}

// Global registry instance
var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

// IncrementCounter increments a counter metric
func (r *Registry) IncrementCounter(name string, labels map[string]string, description string) {
	r.AddToCounter(name, 1, labels, description)
}

// AddToCounter adds a value to a counter metric
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if counter, exists := r.counters[key]; exists {
		counter.Value += value
		counter.LastUpdate = time.Now()
	} else {
		r.counters[key] = &Metric{
			Name:        name,
			Type:        Counter,
			Value:       value,
			Labels:      copyLabels(labels),
			Description: description,
			LastUpdate:  time.Now(),
		}
	}
}

// SetGauge sets a gauge metric to a value
func (r *Registry) SetGauge(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if gauge, exists := r.gauges[key]; exists {
		gauge.Value = value
		gauge.LastUpdate = time.Now()
	} else {
		r.gauges[key] = &Metric{
			Name:        name,
			Type:        Gauge,
			Value:       value,
			Labels:      copyLabels(labels),
			Description: description,
			LastUpdate:  time.Now(),
		}
	}
}

// CounterValue returns the current value of a counter, or 0 when unset.
func (r *Registry) CounterValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if counter, exists := r.counters[metricKey(name, labels)]; exists {
		return counter.Value
	}
	return 0
}

// GaugeValue returns the current value of a gauge, or 0 when unset.
func (r *Registry) GaugeValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if gauge, exists := r.gauges[metricKey(name, labels)]; exists {
		return gauge.Value
	}
	return 0
}

// Snapshot returns a copy of every registered metric.
func (r *Registry) Snapshot() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metric, 0, len(r.counters)+len(r.gauges))
	for _, m := range r.counters {
		out = append(out, *m)
	}
	for _, m := range r.gauges {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset clears all metrics. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]*Metric)
	r.gauges = make(map[string]*Metric)
}

// IncrementCounter increments a counter on the global registry
func IncrementCounter(name string, labels map[string]string, description string) {
	globalRegistry.IncrementCounter(name, labels, description)
}

// SetGauge sets a gauge on the global registry
func SetGauge(name string, value float64, labels map[string]string, description string) {
	globalRegistry.SetGauge(name, value, labels, description)
}

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
		sb.WriteString(fmt.Sprintf("|%s=%s", k, labels[k]))
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
