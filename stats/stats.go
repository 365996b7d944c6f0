// Package stats records per-operation latency distributions using
// DDSketch, which gives accurate quantiles at a small fixed memory
// cost per operation.
package stats

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

const relativeAccuracy = 0.01

// Recorder accumulates latency observations keyed by operation name.
// Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	sketches map[string]*ddsketch.DDSketch
}

func NewRecorder() *Recorder {
	return &Recorder{
		sketches: make(map[string]*ddsketch.DDSketch),
	}
}

// Observe records one latency sample for op.
func (r *Recorder) Observe(op string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sketch, ok := r.sketches[op]
	if !ok {
		var err error
		sketch, err = ddsketch.NewDefaultDDSketch(relativeAccuracy)
		if err != nil {
			// Only possible with an invalid accuracy constant.
			return
		}
		r.sketches[op] = sketch
	}
	// DDSketch only accepts positive values.
	ms := float64(d) / float64(time.Millisecond)
	if ms <= 0 {
		ms = 0.001
	}
	_ = sketch.Add(ms)
}

// OperationStats is a latency summary for one operation, in milliseconds.
type OperationStats struct {
	Op    string
	Count float64
	P50   float64
	P95   float64
	P99   float64
	Max   float64
}

// Summary returns per-operation latency summaries sorted by operation
// name.
func (r *Recorder) Summary() []OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	summaries := make([]OperationStats, 0, len(r.sketches))
	for op, sketch := range r.sketches {
		p50, err := sketch.GetValueAtQuantile(0.5)
		if err != nil {
			continue
		}
		p95, _ := sketch.GetValueAtQuantile(0.95)
		p99, _ := sketch.GetValueAtQuantile(0.99)
		max, _ := sketch.GetMaxValue()
		summaries = append(summaries, OperationStats{
			Op:    op,
			Count: sketch.GetCount(),
			P50:   p50,
			P95:   p95,
			P99:   p99,
			Max:   max,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Op < summaries[j].Op
	})
	return summaries
}

// LogSummary writes one log line per operation with its latency
// quantiles.
func (r *Recorder) LogSummary(logger *slog.Logger) {
	for _, s := range r.Summary() {
		logger.Info("operation latency",
			"op", s.Op,
			"count", int64(s.Count),
			"p50_ms", fmt.Sprintf("%.2f", s.P50),
			"p95_ms", fmt.Sprintf("%.2f", s.P95),
			"p99_ms", fmt.Sprintf("%.2f", s.P99),
			"max_ms", fmt.Sprintf("%.2f", s.Max))
	}
}
