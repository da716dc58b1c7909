// Package detector derives observation labels from recorded outcomes.
// Labels are hints for the human reading the report; they never gate
// engine behavior.
package detector

import (
	"fmt"
	"strings"

	"github.com/su1ph3r/stampede/pkg/types"
)

// RaceKind classifies the response pattern a request group produced.
type RaceKind string

const (
	KindQuotaBypass      RaceKind = "quota_bypass"
	KindDoubleSpend      RaceKind = "double_spend"
	KindResourceConflict RaceKind = "resource_conflict"
	KindLostUpdate       RaceKind = "lost_update"
	KindUnknown          RaceKind = "unknown"
)

// Analysis is the per-step verdict over one group of outcomes.
type Analysis struct {
	StepID    string   `json:"step_id"`
	Kind      RaceKind `json:"kind"`
	Anomalies []string `json:"anomalies,omitempty"`
}

// Analyze groups outcomes by step and classifies each group. Step order
// follows first appearance in the outcome log.
func Analyze(outcomes []types.Outcome) []Analysis {
	groups := make(map[string][]types.Outcome)
	var order []string
	for _, o := range outcomes {
		if _, seen := groups[o.StepID]; !seen {
			order = append(order, o.StepID)
		}
		groups[o.StepID] = append(groups[o.StepID], o)
	}

	analyses := make([]Analysis, 0, len(order))
	for _, stepID := range order {
		group := groups[stepID]
		analyses = append(analyses, Analysis{
			StepID:    stepID,
			Kind:      Classify(group),
			Anomalies: FindAnomalies(group),
		})
	}
	return analyses
}

// Classify labels a group of outcomes with the race pattern its responses
// suggest.
func Classify(outcomes []types.Outcome) RaceKind {
	var successes []types.Outcome
	for _, o := range outcomes {
		if o.Success() {
			successes = append(successes, o)
		}
	}

	// Identical bodies across several successes suggests a once-only
	// operation that went through repeatedly.
	if len(successes) > 2 {
		bodies := make(map[string]bool)
		for _, o := range successes {
			bodies[o.BodySnippet] = true
		}
		if len(bodies) == 1 {
			return KindQuotaBypass
		}
	}

	if len(successes) > 1 {
		for _, o := range successes {
			body := strings.ToLower(o.BodySnippet)
			if strings.Contains(body, "balance") || strings.Contains(body, "credit") || strings.Contains(body, "purchase") {
				return KindDoubleSpend
			}
		}
	}

	for _, o := range outcomes {
		if o.StatusCode == 409 || strings.Contains(strings.ToLower(o.BodySnippet), "conflict") {
			return KindResourceConflict
		}
	}

	statuses := make(map[int]bool)
	for _, o := range outcomes {
		if o.OK() {
			statuses[o.StatusCode] = true
		}
	}
	if len(statuses) > 2 {
		return KindLostUpdate
	}

	return KindUnknown
}

// FindAnomalies reports observations worth a human look: multiple successes
// of a presumably once-only operation, latency outliers, and body size
// spread.
func FindAnomalies(outcomes []types.Outcome) []string {
	var anomalies []string

	successes := 0
	for _, o := range outcomes {
		if o.Success() {
			successes++
		}
	}
	if successes > 1 {
		anomalies = append(anomalies,
			fmt.Sprintf("multiple successful responses: %d (potential race window)", successes))
	}

	var responded []types.Outcome
	for _, o := range outcomes {
		if o.OK() {
			responded = append(responded, o)
		}
	}

	if len(responded) > 0 {
		var sum float64
		for _, o := range responded {
			sum += float64(o.Elapsed.Milliseconds())
		}
		avg := sum / float64(len(responded))

		// Only slow outliers are reachable: a duration cannot sit more
		// than one whole average below the average.
		outliers := 0
		for _, o := range responded {
			d := float64(o.Elapsed.Milliseconds())
			if d-avg > avg*2 {
				outliers++
			}
		}
		if outliers > 0 {
			anomalies = append(anomalies,
				fmt.Sprintf("timing outliers: %d requests far from the %dms average", outliers, int(avg)))
		}
	}

	sizes := make(map[int64]bool)
	for _, o := range responded {
		sizes[o.BodySize] = true
	}
	if len(sizes) > 2 {
		anomalies = append(anomalies,
			"varying response sizes (potential state inconsistency)")
	}

	return anomalies
}
