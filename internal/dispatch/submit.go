package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"promptd/internal/inference"
	"promptd/internal/stats"
	"promptd/pkg/types"
)

// dedupWaitGrace extends the waiter deadline slightly past the origin call's
// own timeout so the origin always resolves the entry first.
const dedupWaitGrace = 2 * time.Second

// Submit runs one request through the three admission strategies: join an
// identical in-flight call, process fresh under the concurrency ceiling, or
// degrade to a structured fallback. It always returns a terminal response
// and emits exactly one sink event.
func (d *Dispatcher) Submit(ctx context.Context, req types.AskRequest) types.AskResponse {
	start := time.Now()
	prio := types.ParsePriority(req.Priority)
	params := inference.ParamsFor(prio)
	if req.TimeoutSec > 0 {
		params.Timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	fp := fingerprint(req.Prompt, req.UserID)

	// The HTTP boundary validates too; this guard keeps library callers from
	// shipping junk to the endpoint.
	if strings.TrimSpace(req.Prompt) == "" || len(req.Prompt) > types.MaxPromptLen {
		d.mu.Lock()
		d.totalRequests++
		d.mu.Unlock()
		err := fmt.Errorf("invalid prompt: must be non-empty and at most %d characters", types.MaxPromptLen)
		return d.finishError(ctx, fp, req, prio, start, err, nil)
	}

	d.mu.Lock()
	d.totalRequests++

	// Strategy 1: identical request already in flight.
	if entry, ok := d.inflight[fp]; ok {
		d.mu.Unlock()
		return d.awaitShared(ctx, entry, fp, req, prio, params, start)
	}

	// Strategy 2: fresh call if a slot is free. Entry creation happens under
	// the same lock as the in-flight check so a concurrent duplicate cannot
	// slip past into a second remote call.
	if d.gate.TryAcquire() {
		entry := &inflightEntry{done: make(chan struct{})}
		d.inflight[fp] = entry
		procID := uuid.NewString()
		d.active[procID] = activeRecord{req: req, started: start}
		d.mu.Unlock()
		return d.process(ctx, fp, entry, procID, req, prio, params, start)
	}

	// Strategy 3: graceful fallback, no call attempted. Load is the gate
	// occupancy, not this dispatcher's active table: when the gate is shared
	// with the queued scheduler, its slots count towards capacity too.
	d.fallbackResponses++
	load := d.gate.InUse()
	d.mu.Unlock()
	return d.fallback(ctx, fp, req, prio, load, start)
}

// awaitShared waits for the origin call's shared result. The wait is bounded
// by the same timeout discipline as a fresh call plus a small grace; waiters
// observe the same failure the origin observed.
func (d *Dispatcher) awaitShared(ctx context.Context, entry *inflightEntry, fp uint64, req types.AskRequest, prio types.Priority, params inference.Params, start time.Time) types.AskResponse {
	timer := time.NewTimer(params.Timeout + dedupWaitGrace)
	defer timer.Stop()

	select {
	case <-entry.done:
	case <-ctx.Done():
		return d.finishError(ctx, fp, req, prio, start, ctx.Err(), map[string]any{"deduplicated": true})
	case <-timer.C:
		err := fmt.Errorf("timed out waiting for identical in-flight request")
		return d.finishError(ctx, fp, req, prio, start, err, map[string]any{"deduplicated": true})
	}

	if entry.err != nil {
		return d.finishError(ctx, fp, req, prio, start, entry.err, map[string]any{"deduplicated": true})
	}

	elapsed := time.Since(start)
	d.mu.Lock()
	d.dedupHits++
	d.successfulRequests++
	d.mu.Unlock()

	d.logEvent(ctx, stats.Event{
		Fingerprint: fingerprintString(fp),
		Success:     true,
		Elapsed:     elapsed,
		TokensUsed:  0,
		Source:      types.SourceDeduplicated,
		Priority:    prio,
		UserID:      req.UserID,
	})
	return types.AskResponse{
		Success:      true,
		Result:       entry.result,
		ResponseTime: elapsed.Seconds(),
		Source:       types.SourceDeduplicated,
		Metadata:     map[string]any{"deduplicated": true},
	}
}

// process performs the remote call. Entry, active record and gate slot are
// released on every exit path, including panics, and the shared entry is
// always resolved so waiters never hang.
func (d *Dispatcher) process(ctx context.Context, fp uint64, entry *inflightEntry, procID string, req types.AskRequest, prio types.Priority, params inference.Params, start time.Time) (resp types.AskResponse) {
	defer func() {
		d.mu.Lock()
		delete(d.inflight, fp)
		delete(d.active, procID)
		d.mu.Unlock()
		d.gate.Release()
	}()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("dispatch panic: %v", r)
			entry.resolve("", err)
			resp = d.finishError(ctx, fp, req, prio, start, err, map[string]any{"processing_id": procID})
		}
	}()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			entry.resolve("", err)
			return d.finishError(ctx, fp, req, prio, start, err, map[string]any{"processing_id": procID})
		}
	}

	res, err := d.client.Generate(ctx, req.Prompt, params)
	if err != nil {
		entry.resolve("", err)
		return d.finishError(ctx, fp, req, prio, start, err, map[string]any{"processing_id": procID})
	}
	entry.resolve(res.Content, nil)

	elapsed := time.Since(start)
	d.mu.Lock()
	d.successfulRequests++
	d.totalTokens += uint64(res.TokensUsed)
	d.responseTimes = append(d.responseTimes, elapsed.Seconds())
	if len(d.responseTimes) > responseTimeWindow {
		d.responseTimes = d.responseTimes[1:]
	}
	d.mu.Unlock()

	d.logEvent(ctx, stats.Event{
		Fingerprint: fingerprintString(fp),
		Success:     true,
		Elapsed:     elapsed,
		TokensUsed:  res.TokensUsed,
		Source:      types.SourceRemoteCall,
		Priority:    prio,
		UserID:      req.UserID,
		Model:       res.Model,
	})
	return types.AskResponse{
		Success:      true,
		Result:       res.Content,
		ResponseTime: elapsed.Seconds(),
		Source:       types.SourceRemoteCall,
		Metadata: map[string]any{
			"processing_id": procID,
			"tokens_used":   res.TokensUsed,
			"model":         res.Model,
		},
	}
}

// fallback builds the structured negative response when no capacity exists.
// No remote call is made and no entries are created.
func (d *Dispatcher) fallback(ctx context.Context, fp uint64, req types.AskRequest, prio types.Priority, load int, start time.Time) types.AskResponse {
	capacity := d.gate.Capacity()
	loadPct := float64(load) / float64(capacity) * 100

	var message, reason string
	if load >= capacity {
		message = fmt.Sprintf("System is at full capacity (%d/%d slots used). Please try again in a moment.", load, capacity)
		reason = "capacity_full"
	} else {
		message = "Unable to process request quickly. Please try again or use a simpler prompt."
		reason = "processing_timeout"
	}

	elapsed := time.Since(start)
	d.logEvent(ctx, stats.Event{
		Fingerprint:  fingerprintString(fp),
		Success:      false,
		Elapsed:      elapsed,
		Source:       types.SourceFallback,
		Priority:     prio,
		UserID:       req.UserID,
		ErrorMessage: "fallback: " + reason,
	})
	return types.AskResponse{
		Success:      false,
		Result:       message,
		ResponseTime: elapsed.Seconds(),
		Source:       types.SourceFallback,
		Metadata: map[string]any{
			"fallback_reason": reason,
			"current_load":    fmt.Sprintf("%d/%d", load, capacity),
			"load_percent":    fmt.Sprintf("%.1f%%", loadPct),
			"suggestion":      "Try again in 30-60 seconds",
		},
	}
}

// finishError converts any failure into a failed response and its single sink
// event. Remote errors never escape the dispatcher as Go errors.
func (d *Dispatcher) finishError(ctx context.Context, fp uint64, req types.AskRequest, prio types.Priority, start time.Time, err error, meta map[string]any) types.AskResponse {
	elapsed := time.Since(start)
	d.mu.Lock()
	d.failedRequests++
	d.mu.Unlock()

	d.logEvent(ctx, stats.Event{
		Fingerprint:  fingerprintString(fp),
		Success:      false,
		Elapsed:      elapsed,
		Source:       types.SourceError,
		Priority:     prio,
		UserID:       req.UserID,
		ErrorMessage: err.Error(),
	})
	if meta == nil {
		meta = map[string]any{}
	}
	meta["error"] = err.Error()
	return types.AskResponse{
		Success:      false,
		Result:       "Error processing request: " + err.Error(),
		ResponseTime: elapsed.Seconds(),
		Source:       types.SourceError,
		Metadata:     meta,
	}
}
