// Package collector accumulates per-request outcomes and derives running
// aggregates for live display and final reporting.
package collector

import (
	"sort"
	"sync"
	"time"

	"github.com/su1ph3r/stampede/pkg/types"
)

// Collector is a thread-safe append-only log of outcomes. Writers never
// block on readers; readers get consistent point-in-time snapshots.
type Collector struct {
	mu       sync.RWMutex
	outcomes []types.Outcome
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{}
}

// Append records one outcome. Appends are atomic at outcome granularity.
func (c *Collector) Append(o types.Outcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
}

// Len returns the number of recorded outcomes.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.outcomes)
}

// Outcomes returns a copy of the outcome log in append (completion) order.
func (c *Collector) Outcomes() []types.Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

// SetCapture records an extraction result on an already appended outcome.
// Capture extraction runs once a step settles, after its outcomes landed,
// so attaching here completes the record rather than rewriting it.
func (c *Collector) SetCapture(stepID string, index int, name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.outcomes {
		o := &c.outcomes[i]
		if o.StepID != stepID || o.Index != index {
			continue
		}
		// Copy on write: earlier Outcomes() copies share the old map.
		m := make(map[string]string, len(o.Captures)+1)
		for k, v := range o.Captures {
			m[k] = v
		}
		m[name] = value
		o.Captures = m
		return
	}
}

// StepOutcomes returns a copy of the outcomes recorded for one step.
func (c *Collector) StepOutcomes(stepID string) []types.Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []types.Outcome
	for _, o := range c.outcomes {
		if o.StepID == stepID {
			out = append(out, o)
		}
	}
	return out
}

// LatencyStats summarizes response times of completed sends.
type LatencyStats struct {
	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
}

// Snapshot is a consistent point-in-time view of the aggregates.
type Snapshot struct {
	Total        int                   `json:"total"`
	Succeeded    int                   `json:"succeeded"`
	Failed       int                   `json:"failed"`
	StatusCounts map[int]int           `json:"status_counts"`
	ErrorCounts  map[types.ErrKind]int `json:"error_counts,omitempty"`
	Latency      LatencyStats          `json:"latency"`
}

// Snapshot computes aggregates over the outcomes recorded so far. Latency
// statistics cover only slots that produced a response.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	outcomes := make([]types.Outcome, len(c.outcomes))
	copy(outcomes, c.outcomes)
	c.mu.RUnlock()

	snap := Snapshot{
		Total:        len(outcomes),
		StatusCounts: make(map[int]int),
	}

	var latencies []time.Duration
	for _, o := range outcomes {
		if !o.OK() {
			snap.Failed++
			if snap.ErrorCounts == nil {
				snap.ErrorCounts = make(map[types.ErrKind]int)
			}
			snap.ErrorCounts[o.ErrKind]++
			continue
		}
		if o.Success() {
			snap.Succeeded++
		}
		snap.StatusCounts[o.StatusCode]++
		latencies = append(latencies, o.Elapsed)
	}

	snap.Latency = computeLatency(latencies)
	return snap
}

func computeLatency(latencies []time.Duration) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, d := range latencies {
		sum += d
	}

	return LatencyStats{
		Min:  latencies[0],
		Max:  latencies[len(latencies)-1],
		Mean: sum / time.Duration(len(latencies)),
		P50:  percentile(latencies, 50),
		P95:  percentile(latencies, 95),
		P99:  percentile(latencies, 99),
	}
}

// percentile returns the nearest-rank percentile of a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (p*len(sorted) + 99) / 100
	if idx < 1 {
		idx = 1
	}
	return sorted[idx-1]
}
