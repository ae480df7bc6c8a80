// Package metrics keeps in-process counters, timings and outcomes keyed by a
// slash-separated path such as "llm/fast/send".
package metrics

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// MetricsManager holds every metric recorded by the process.
type MetricsManager struct {
	mu          sync.RWMutex
	timings     map[string]*TimingMetric
	counters    map[string]*CounterMetric
	successFail map[string]*SuccessFailMetric
	outcomes    map[string]*OutcomeMetric
}

var (
	instance *MetricsManager
	once     sync.Once
)

// GetInstance returns the process-wide metrics manager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates an empty manager. Tests use it to avoid the shared instance.
func New() *MetricsManager {
	return &MetricsManager{
		timings:     make(map[string]*TimingMetric),
		counters:    make(map[string]*CounterMetric),
		successFail: make(map[string]*SuccessFailMetric),
		outcomes:    make(map[string]*OutcomeMetric),
	}
}

// buildPath creates a normalized path from topic and function
func buildPath(topic, function string) string {
	if function == "" {
		return topic
	}
	return topic + "/" + function
}

// getOrCreate returns the metric at path, creating it with mk under the
// write lock when missing.
func getOrCreate[T any](m *MetricsManager, set map[string]*T, path string, mk func() *T) *T {
	m.mu.RLock()
	metric, ok := set[path]
	m.mu.RUnlock()
	if ok {
		return metric
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if metric, ok = set[path]; !ok {
		metric = mk()
		set[path] = metric
	}
	return metric
}

// RecordDuration records a duration directly
func (m *MetricsManager) RecordDuration(topic, function string, d time.Duration) {
	metric := getOrCreate(m, m.timings, buildPath(topic, function), func() *TimingMetric {
		return &TimingMetric{Min: d, Max: d}
	})

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Count++
	metric.Total += d
	metric.Last = d
	metric.Min = min(metric.Min, d)
	metric.Max = max(metric.Max, d)
}

// AddCounter adds delta to a counter
func (m *MetricsManager) AddCounter(topic, function string, delta int64) {
	metric := getOrCreate(m, m.counters, buildPath(topic, function), func() *CounterMetric {
		return &CounterMetric{}
	})

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Value += delta
	metric.Last = time.Now()
}

func (m *MetricsManager) successFailAt(path string) *SuccessFailMetric {
	return getOrCreate(m, m.successFail, path, func() *SuccessFailMetric {
		return &SuccessFailMetric{FailureReasons: make(map[string]int64)}
	})
}

// RecordSuccess records a successful operation
func (m *MetricsManager) RecordSuccess(topic, function string) {
	metric := m.successFailAt(buildPath(topic, function))

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Success++
	metric.LastSuccess = time.Now()
}

// RecordFailure records a failed operation
func (m *MetricsManager) RecordFailure(topic, function, reason string) {
	metric := m.successFailAt(buildPath(topic, function))

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Failures++
	metric.LastFailure = time.Now()
	if reason != "" {
		metric.FailureReasons[reason]++
	}
}

// RecordOutcome records a specific outcome
func (m *MetricsManager) RecordOutcome(topic, function, outcome string) {
	metric := getOrCreate(m, m.outcomes, buildPath(topic, function), func() *OutcomeMetric {
		return &OutcomeMetric{Outcomes: make(map[string]int64)}
	})

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Outcomes[outcome]++
	metric.Total++
	metric.LastOutcome = outcome
}

// Snapshot returns a copy of every metric, sorted by path then type.
func (m *MetricsManager) Snapshot() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.timings)+len(m.counters)+len(m.successFail)+len(m.outcomes))
	for path, t := range m.timings {
		t.mu.Lock()
		s := Snapshot{Path: path, Type: TypeTiming, Count: t.Count, Min: t.Min, Max: t.Max}
		if t.Count > 0 {
			s.Avg = t.Total / time.Duration(t.Count)
		}
		t.mu.Unlock()
		out = append(out, s)
	}
	for path, c := range m.counters {
		c.mu.Lock()
		out = append(out, Snapshot{Path: path, Type: TypeCounter, Value: c.Value})
		c.mu.Unlock()
	}
	for path, sf := range m.successFail {
		sf.mu.Lock()
		out = append(out, Snapshot{
			Path:           path,
			Type:           TypeSuccessFail,
			Success:        sf.Success,
			Failures:       sf.Failures,
			FailureReasons: maps.Clone(sf.FailureReasons),
		})
		sf.mu.Unlock()
	}
	for path, o := range m.outcomes {
		o.mu.Lock()
		out = append(out, Snapshot{Path: path, Type: TypeOutcome, Count: o.Total, Outcomes: maps.Clone(o.Outcomes)})
		o.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Reset drops every metric.
func (m *MetricsManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.timings)
	clear(m.counters)
	clear(m.successFail)
	clear(m.outcomes)
}
