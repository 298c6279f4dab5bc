package dispatch

import (
	"time"

	"promptd/pkg/types"
)

// Stats returns the in-memory dispatcher counters, computed on demand.
func (d *Dispatcher) Stats() types.DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var avg float64
	if n := len(d.responseTimes); n > 0 {
		var sum float64
		for _, v := range d.responseTimes {
			sum += v
		}
		avg = sum / float64(n)
	}
	return types.DispatcherStats{
		TotalRequests:      d.totalRequests,
		SuccessfulRequests: d.successfulRequests,
		FailedRequests:     d.failedRequests,
		DeduplicatedHits:   d.dedupHits,
		FallbackResponses:  d.fallbackResponses,
		TotalTokensUsed:    d.totalTokens,
		AvgResponseTime:    avg,
		ActiveProcessing:   len(d.active),
		MaxConcurrent:      d.gate.Capacity(),
		UptimeSeconds:      int64(time.Since(d.startTime).Seconds()),
	}
}

// Capacity classifies current load for operators and clients deciding
// whether to submit.
func (d *Dispatcher) Capacity() types.CapacityReport {
	d.mu.Lock()
	active := len(d.active)
	d.mu.Unlock()

	capacity := d.gate.Capacity()
	pct := float64(active) / float64(capacity) * 100

	var status, rec string
	switch {
	case pct < 30:
		status, rec = "low_load", "System ready for requests"
	case pct < 70:
		status, rec = "medium_load", "System handling requests well"
	case pct < 90:
		status, rec = "high_load", "System busy but accepting requests"
	default:
		status, rec = "at_capacity", "System at capacity, may have delays"
	}
	return types.CapacityReport{
		Status:           status,
		ActiveProcessing: active,
		MaxConcurrent:    capacity,
		LoadPercent:      pct,
		Recommendation:   rec,
	}
}
