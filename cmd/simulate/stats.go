package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// OperationStats counts outcomes and keeps every latency for percentiles.
type OperationStats struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (o *OperationStats) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&o.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&o.Success, 1)
	case conflict:
		atomic.AddInt64(&o.Conflict, 1)
	default:
		atomic.AddInt64(&o.Error, 1)
	}

	o.mu.Lock()
	o.latencies = append(o.latencies, latency)
	o.mu.Unlock()
}

func (o *OperationStats) Percentiles() (avg, p50, p95, max time.Duration) {
	o.mu.Lock()
	sorted := make([]time.Duration, len(o.latencies))
	copy(sorted, o.latencies)
	o.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	at := func(pct int) time.Duration {
		idx := len(sorted) * pct / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return sum / time.Duration(len(sorted)), at(50), at(95), sorted[len(sorted)-1]
}

func (o *OperationStats) Report(name string) string {
	total := atomic.LoadInt64(&o.Total)
	if total == 0 {
		return ""
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&o.Success)
	conflict := atomic.LoadInt64(&o.Conflict)
	failed := atomic.LoadInt64(&o.Error)
	avg, p50, p95, max := o.Percentiles()

	return fmt.Sprintf("%s:\n  Total: %d\n  Success: %d (%.1f%%)\n  Conflicts: %d (%.1f%%)\n  Errors: %d (%.1f%%)\n  Latency: avg=%s p50=%s p95=%s max=%s\n",
		name, total, success, pct(success), conflict, pct(conflict), failed, pct(failed),
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}
