package metrics

import (
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	TypeTiming      MetricType = "timing"
	TypeCounter     MetricType = "counter"
	TypeSuccessFail MetricType = "success_fail"
	TypeOutcome     MetricType = "outcome"
)

// TimingMetric tracks timing statistics
type TimingMetric struct {
	mu    sync.Mutex
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Last  time.Duration
}

// CounterMetric tracks incrementing values
type CounterMetric struct {
	mu    sync.Mutex
	Value int64
	Last  time.Time
}

// SuccessFailMetric tracks success and failure counts
type SuccessFailMetric struct {
	mu             sync.Mutex
	Success        int64
	Failures       int64
	LastSuccess    time.Time
	LastFailure    time.Time
	FailureReasons map[string]int64 // reason -> count
}

// OutcomeMetric tracks multiple possible outcomes
type OutcomeMetric struct {
	mu          sync.Mutex
	Outcomes    map[string]int64 // outcome -> count
	LastOutcome string
	Total       int64
}

// Snapshot is a point-in-time copy of one metric. Only the fields of its
// Type are set.
type Snapshot struct {
	Path string     `json:"path"`
	Type MetricType `json:"type"`

	// timing
	Count int64         `json:"count,omitempty"`
	Avg   time.Duration `json:"avg,omitempty"`
	Min   time.Duration `json:"min,omitempty"`
	Max   time.Duration `json:"max,omitempty"`

	// counter
	Value int64 `json:"value,omitempty"`

	// success/fail
	Success        int64            `json:"success,omitempty"`
	Failures       int64            `json:"failures,omitempty"`
	FailureReasons map[string]int64 `json:"failure_reasons,omitempty"`

	// outcome
	Outcomes map[string]int64 `json:"outcomes,omitempty"`
}

// SuccessRate returns the success ratio for a success/fail snapshot.
func (s Snapshot) SuccessRate() float64 {
	total := s.Success + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Success) / float64(total)
}
