package scheduler

import (
	"context"
	"fmt"
	"time"

	"promptd/internal/inference"
	"promptd/internal/stats"
	"promptd/pkg/types"
)

// Run drives the background dispatch loop until ctx is canceled. A failing
// iteration is logged and retried after a backoff; the loop itself never
// terminates on error.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		if err := s.tick(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduler tick failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ErrorBackoff):
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick starts queued entries while slots are free, then purges expired
// completed records. Panics are converted to errors so Run can keep going.
func (s *Scheduler) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler panic: %v", r)
		}
	}()

	for s.gate.TryAcquire() {
		entry := s.popNext()
		if entry == nil {
			s.gate.Release()
			break
		}
		go s.processEntry(ctx, entry)
	}

	s.purgeCompleted()
	return nil
}

// popNext removes and returns the front of the highest-priority non-empty
// lane. A low entry never runs while any stricter lane has work.
func (s *Scheduler) popNext() *queueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prio := range types.Priorities {
		lane := s.lanes[prio]
		if len(lane) == 0 {
			continue
		}
		entry := lane[0]
		s.lanes[prio] = lane[1:]
		return entry
	}
	return nil
}

// processEntry runs the remote call for one popped entry. The gate slot is
// released and the entry lands in completed records on every exit path.
func (s *Scheduler) processEntry(ctx context.Context, entry *queueEntry) {
	started := time.Now()

	s.mu.Lock()
	s.processing[entry.id] = processingRecord{entry: entry, started: started}
	s.mu.Unlock()

	var (
		res inference.Result
		err error
	)
	defer func() {
		if r := recover(); r != nil && err == nil {
			err = fmt.Errorf("processing panic: %v", r)
		}
		s.finishEntry(ctx, entry, started, res, err)
		s.gate.Release()
	}()

	params := inference.ParamsFor(entry.prio)
	if entry.req.TimeoutSec > 0 {
		params.Timeout = time.Duration(entry.req.TimeoutSec) * time.Second
	}
	res, err = s.client.Generate(ctx, entry.req.Prompt, params)
}

// finishEntry moves the entry from processing to completed, updates the
// rolling window and counters, and emits the single sink event.
func (s *Scheduler) finishEntry(ctx context.Context, entry *queueEntry, started time.Time, res inference.Result, err error) {
	duration := time.Since(started)
	now := time.Now()

	status := types.RequestStatus{
		RequestID:       entry.id,
		ProcessingTime:  duration.Seconds(),
		CreatedAtUnix:   entry.created.Unix(),
		CompletedAtUnix: now.Unix(),
	}
	if err != nil {
		status.Status = "failed"
		status.Error = err.Error()
	} else {
		status.Status = "completed"
		status.Result = res.Content
	}

	s.mu.Lock()
	delete(s.processing, entry.id)
	s.completed[entry.id] = completedRecord{status: status, completedAt: now}
	s.processingTimes = append(s.processingTimes, duration.Seconds())
	if len(s.processingTimes) > processingTimeWindow {
		s.processingTimes = s.processingTimes[1:]
	}
	if err != nil {
		s.failedRequests++
	} else {
		s.completedRequests++
	}
	s.mu.Unlock()

	ev := stats.Event{
		RequestID:  entry.id,
		Success:    err == nil,
		Elapsed:    duration,
		TokensUsed: res.TokensUsed,
		Source:     types.SourceRemoteCall,
		Priority:   entry.prio,
		UserID:     entry.req.UserID,
		Model:      res.Model,
	}
	if err != nil {
		ev.Source = types.SourceError
		ev.ErrorMessage = err.Error()
		ev.TokensUsed = 0
	}
	stats.LogBestEffort(ctx, s.sink, s.log, ev)
}

// purgeCompleted drops terminal records older than the retention window.
func (s *Scheduler) purgeCompleted() {
	cutoff := time.Now().Add(-completedRetention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.completed {
		if rec.completedAt.Before(cutoff) {
			delete(s.completed, id)
		}
	}
}
