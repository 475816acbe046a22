package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Turn pipeline stages reported to the latency window.
const (
	StageClassify     = "classify"
	StageScore        = "score"
	StageGenerate     = "generate"
	StageUpdateMemory = "update_memory"
	StageTurnTotal    = "turn_total"
)

// p95 budgets in milliseconds, surfaced next to the measured value.
var stageTargets = map[string]float64{
	StageClassify:     1500,
	StageScore:        1500,
	StageGenerate:     6000,
	StageUpdateMemory: 5000,
	StageTurnTotal:    12000,
}

type TurnStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TurnStageSnapshot is served by the latency endpoint.
type TurnStageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []TurnStageStats `json:"stages"`
	Indicators  []TurnIndicator  `json:"indicators,omitempty"`
}

// latencyWindow keeps the most recent samples per stage plus monotonically
// increasing indicator counts, both cleared by reset.
type latencyWindow struct {
	mu         sync.Mutex
	size       int
	samples    map[string][]float64
	indicators map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:       size,
		samples:    make(map[string][]float64),
		indicators: make(map[string]int),
	}
}

func (w *latencyWindow) observe(stage string, ms float64) {
	if stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s := append(w.samples[stage], ms)
	if len(s) > w.size {
		// shift in place; capacity stays at size+1
		copy(s, s[1:])
		s = s[:w.size]
	}
	w.samples[stage] = s
}

func (w *latencyWindow) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	clear(w.samples)
	clear(w.indicators)
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot() TurnStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := TurnStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]TurnStageStats, 0, len(w.samples)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.samples)) {
		if stats, ok := summarize(stage, w.samples[stage]); ok {
			snap.Stages = append(snap.Stages, stats)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		snap.Indicators = append(snap.Indicators, TurnIndicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func summarize(stage string, window []float64) (TurnStageStats, bool) {
	if len(window) == 0 {
		return TurnStageStats{}, false
	}
	sorted := slices.Sorted(slices.Values(window))
	var total float64
	for _, v := range sorted {
		total += v
	}

	stats := TurnStageStats{
		Stage:       stage,
		Samples:     len(sorted),
		LastMS:      round2(window[len(window)-1]),
		AvgMS:       round2(total / float64(len(sorted))),
		P50MS:       round2(nearestRank(sorted, 50)),
		P95MS:       round2(nearestRank(sorted, 95)),
		P99MS:       round2(nearestRank(sorted, 99)),
		TargetP95MS: stageTargets[stage],
	}
	stats.OverTarget = stats.TargetP95MS > 0 && stats.P95MS > stats.TargetP95MS
	return stats, true
}

// nearestRank returns the smallest sample with at least pct percent of the
// window at or below it.
func nearestRank(sorted []float64, pct int) float64 {
	rank := (pct*len(sorted) + 99) / 100
	rank = max(rank, 1)
	return sorted[min(rank, len(sorted))-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
