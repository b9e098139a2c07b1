package iteration

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"bemflow/internal/collab"
)

// Strategy selects the buildings targeted by the next round.
type Strategy string

const (
	// StrategyValidationFailure targets buildings whose last validation failed.
	StrategyValidationFailure Strategy = "validation_failure"
	// StrategyWorstPerformer targets the K buildings with the highest error metric.
	StrategyWorstPerformer Strategy = "worst_performer"
	// StrategyLeastImproved targets the K buildings whose metric improved least
	// versus the previous round.
	StrategyLeastImproved Strategy = "least_improved"
)

// SelectFunc is a pure selection over the per-building views observed so
// far, oldest first. k <= 0 means no cap.
type SelectFunc func(views []collab.ValidationReport, k int) []string

var strategyTable = map[Strategy]SelectFunc{
	StrategyValidationFailure: selectValidationFailures,
	StrategyWorstPerformer:    selectWorstPerformers,
	StrategyLeastImproved:     selectLeastImproved,
}

var allStrategies = []Strategy{StrategyValidationFailure, StrategyWorstPerformer, StrategyLeastImproved}

// ParseStrategy converts a configured name into a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	normalized := Strategy(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := strategyTable[normalized]; ok {
		return normalized, nil
	}
	names := make([]string, 0, len(allStrategies))
	for _, s := range allStrategies {
		names = append(names, string(s))
	}
	return "", fmt.Errorf("unknown strategy %q (want one of %s)", value, strings.Join(names, ", "))
}

// Select applies the strategy. Unknown strategies select nothing.
func (s Strategy) Select(views []collab.ValidationReport, k int) []string {
	fn, ok := strategyTable[s]
	if !ok || len(views) == 0 {
		return nil
	}
	return fn(views, k)
}

type scored struct {
	id    string
	score float64
}

// rankDescending orders by score (highest first), then ID, and applies the cap.
func rankDescending(entries []scored, k int) []string {
	slices.SortStableFunc(entries, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if k > 0 && len(entries) > k {
		entries = entries[:k]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.id)
	}
	return out
}

func selectValidationFailures(views []collab.ValidationReport, k int) []string {
	last := views[len(views)-1]
	entries := make([]scored, 0, len(last.Buildings))
	for _, b := range last.Buildings {
		if !b.Passed {
			entries = append(entries, scored{id: b.BuildingID, score: b.Metric})
		}
	}
	return rankDescending(entries, k)
}

func selectWorstPerformers(views []collab.ValidationReport, k int) []string {
	last := views[len(views)-1]
	entries := make([]scored, 0, len(last.Buildings))
	for _, b := range last.Buildings {
		entries = append(entries, scored{id: b.BuildingID, score: b.Metric})
	}
	return rankDescending(entries, k)
}

// selectLeastImproved ranks by smallest improvement (previous - current).
// With a single view there is no delta, so it falls back to worst performers.
func selectLeastImproved(views []collab.ValidationReport, k int) []string {
	if len(views) < 2 {
		return selectWorstPerformers(views, k)
	}
	previous := views[len(views)-2].MetricByBuilding()
	last := views[len(views)-1]
	entries := make([]scored, 0, len(last.Buildings))
	for _, b := range last.Buildings {
		improvement := 0.0
		if prev, ok := previous[b.BuildingID]; ok {
			improvement = prev - b.Metric
		}
		// Negated so rankDescending puts the smallest improvement first.
		entries = append(entries, scored{id: b.BuildingID, score: -improvement})
	}
	return rankDescending(entries, k)
}

// mergeView overlays a round's per-building results onto the previous view
// so buildings outside the selection keep their latest known metric.
func mergeView(previous *collab.ValidationReport, round collab.ValidationReport) collab.ValidationReport {
	if previous == nil {
		return round
	}
	updated := make(map[string]collab.BuildingValidation, len(round.Buildings))
	for _, b := range round.Buildings {
		updated[b.BuildingID] = b
	}
	merged := collab.ValidationReport{Metric: round.Metric, Buildings: make([]collab.BuildingValidation, 0, len(previous.Buildings)+len(round.Buildings))}
	seen := make(map[string]struct{}, len(previous.Buildings))
	for _, b := range previous.Buildings {
		seen[b.BuildingID] = struct{}{}
		if next, ok := updated[b.BuildingID]; ok {
			merged.Buildings = append(merged.Buildings, next)
			continue
		}
		merged.Buildings = append(merged.Buildings, b)
	}
	for _, b := range round.Buildings {
		if _, ok := seen[b.BuildingID]; !ok {
			merged.Buildings = append(merged.Buildings, b)
		}
	}
	return merged
}
