// Package scheduler implements the queued admission strategy: three strict
// priority lanes drained by a background loop under the shared concurrency
// ceiling, with queue-position and wait-time estimates on enqueue.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"promptd/internal/admission"
	"promptd/internal/inference"
	"promptd/internal/stats"
	"promptd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultQueueCapacity = 100
	defaultMaxConcurrent = 5
	defaultTickInterval  = time.Second
	defaultErrorBackoff  = 5 * time.Second

	// Completed records are retained this long before purge.
	completedRetention = 5 * time.Minute
	// Rolling window of observed processing times.
	processingTimeWindow = 100
	// Assumed processing time before any observation exists.
	defaultAvgProcessing = 10.0 // seconds
)

// Config encapsulates all tunables for Scheduler construction.
type Config struct {
	// Total queued requests across all lanes before enqueue refuses.
	QueueCapacity int
	// Maximum simultaneous outstanding remote calls. Ignored when a Gate is
	// injected.
	MaxConcurrent int
	TickInterval  time.Duration
	ErrorBackoff  time.Duration
}

// queueEntry lives in exactly one lane until the dispatch loop pops it.
type queueEntry struct {
	id      string
	req     types.AskRequest
	prio    types.Priority
	created time.Time
}

// processingRecord exists while the entry's remote call is outstanding.
type processingRecord struct {
	entry   *queueEntry
	started time.Time
}

// completedRecord is the terminal snapshot kept for the retention window.
type completedRecord struct {
	status      types.RequestStatus
	completedAt time.Time
}

// Scheduler holds the three lanes and their bookkeeping. All lane, processing
// and completed mutations happen under mu; the remote call itself runs
// outside the lock.
type Scheduler struct {
	client inference.Client
	sink   stats.Sink
	gate   *admission.Gate
	log    zerolog.Logger
	cfg    Config

	mu         sync.Mutex
	lanes      map[types.Priority][]*queueEntry
	processing map[string]processingRecord
	completed  map[string]completedRecord

	totalRequests     uint64
	completedRequests uint64
	failedRequests    uint64
	processingTimes   []float64
}

// New constructs a Scheduler. gate may be shared with a direct-mode
// Dispatcher so the concurrency ceiling is shared, not doubled; pass nil for
// a private gate sized by cfg.MaxConcurrent.
func New(client inference.Client, sink stats.Sink, gate *admission.Gate, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if gate == nil {
		n := cfg.MaxConcurrent
		if n <= 0 {
			n = defaultMaxConcurrent
		}
		gate = admission.NewGate(n)
	}
	if sink == nil {
		sink = stats.NopSink{}
	}
	lanes := make(map[types.Priority][]*queueEntry, len(types.Priorities))
	for _, p := range types.Priorities {
		lanes[p] = nil
	}
	return &Scheduler{
		client:     client,
		sink:       sink,
		gate:       gate,
		log:        log,
		cfg:        cfg,
		lanes:      lanes,
		processing: make(map[string]processingRecord),
		completed:  make(map[string]completedRecord),
	}
}

// Enqueue appends the request to its priority lane, or refuses with status
// failed (and no id) when the queue is at capacity.
func (s *Scheduler) Enqueue(ctx context.Context, req types.AskRequest) types.EnqueueResponse {
	now := time.Now()
	prio := types.ParsePriority(req.Priority)

	// The HTTP boundary validates too; this guard keeps library callers from
	// queueing junk that would only fail at the remote call.
	if strings.TrimSpace(req.Prompt) == "" || len(req.Prompt) > types.MaxPromptLen {
		stats.LogBestEffort(ctx, s.sink, s.log, stats.Event{
			Success:      false,
			Source:       types.SourceError,
			Priority:     prio,
			UserID:       req.UserID,
			ErrorMessage: "invalid_prompt",
		})
		return types.EnqueueResponse{
			Status:        "failed",
			Message:       fmt.Sprintf("Invalid prompt: must be non-empty and at most %d characters.", types.MaxPromptLen),
			CreatedAtUnix: now.Unix(),
		}
	}

	s.mu.Lock()
	if s.totalQueuedLocked() >= s.cfg.QueueCapacity {
		s.mu.Unlock()
		stats.LogBestEffort(ctx, s.sink, s.log, stats.Event{
			Success:      false,
			Source:       types.SourceFallback,
			Priority:     prio,
			UserID:       req.UserID,
			ErrorMessage: "queue_full",
		})
		return types.EnqueueResponse{
			Status:        "failed",
			Message:       "Queue is full. System is overloaded. Please try again later.",
			CreatedAtUnix: now.Unix(),
		}
	}

	entry := &queueEntry{
		id:      uuid.NewString(),
		req:     req,
		prio:    prio,
		created: now,
	}
	s.lanes[prio] = append(s.lanes[prio], entry)
	s.totalRequests++

	position := s.positionLocked(entry.id, prio)
	wait := s.estimateWaitLocked(position)
	s.mu.Unlock()

	return types.EnqueueResponse{
		RequestID:        entry.id,
		Status:           "queued",
		Message:          "Request added to queue successfully",
		QueuePosition:    position,
		EstimatedWaitSec: wait,
		CreatedAtUnix:    now.Unix(),
	}
}

// Status reports where the request currently is: completed, processing,
// queued, or unknown (found == false).
func (s *Scheduler) Status(id string) (types.RequestStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.completed[id]; ok {
		return rec.status, true
	}

	if rec, ok := s.processing[id]; ok {
		elapsed := time.Since(rec.started).Seconds()
		expected := s.avgProcessingLocked()
		progress := int(elapsed / expected * 100)
		if progress > 99 {
			progress = 99
		}
		return types.RequestStatus{
			RequestID:     id,
			Status:        "processing",
			Progress:      progress,
			CreatedAtUnix: rec.entry.created.Unix(),
		}, true
	}

	for _, prio := range types.Priorities {
		for _, entry := range s.lanes[prio] {
			if entry.id == id {
				return types.RequestStatus{
					RequestID:     id,
					Status:        "queued",
					QueuePosition: s.positionLocked(id, prio),
					CreatedAtUnix: entry.created.Unix(),
				}, true
			}
		}
	}
	return types.RequestStatus{}, false
}

// Stats computes the queue counters and health classification on demand.
func (s *Scheduler) Stats() types.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := s.totalQueuedLocked()

	var health string
	switch {
	case float64(queued) > float64(s.cfg.QueueCapacity)*0.8:
		health = "overloaded"
	case float64(queued) >= float64(s.cfg.QueueCapacity)*0.5:
		health = "busy"
	default:
		health = "healthy"
	}

	var avg float64
	if len(s.processingTimes) > 0 {
		avg = s.avgProcessingLocked()
	}
	return types.QueueStats{
		TotalQueued:       queued,
		TotalProcessing:   len(s.processing),
		TotalCompleted:    s.completedRequests,
		TotalFailed:       s.failedRequests,
		AvgProcessingTime: avg,
		QueueHealth:       health,
	}
}

func (s *Scheduler) totalQueuedLocked() int {
	n := 0
	for _, lane := range s.lanes {
		n += len(lane)
	}
	return n
}

// positionLocked is 1-based: all entries in stricter lanes, plus entries
// ahead in the same lane, plus one.
func (s *Scheduler) positionLocked(id string, prio types.Priority) int {
	position := 1
	for _, p := range types.Priorities {
		if p.Rank() < prio.Rank() {
			position += len(s.lanes[p])
		}
	}
	for _, entry := range s.lanes[prio] {
		if entry.id == id {
			break
		}
		position++
	}
	return position
}

// avgProcessingLocked is the rolling average in seconds, defaulting when no
// observation exists yet.
func (s *Scheduler) avgProcessingLocked() float64 {
	if len(s.processingTimes) == 0 {
		return defaultAvgProcessing
	}
	var sum float64
	for _, v := range s.processingTimes {
		sum += v
	}
	return sum / float64(len(s.processingTimes))
}

// estimateWaitLocked divides the serial estimate by the concurrency ceiling,
// floored at 0.
func (s *Scheduler) estimateWaitLocked(position int) int {
	concurrent := s.gate.Capacity()
	if concurrent < 1 {
		concurrent = 1
	}
	est := int(float64(position) * s.avgProcessingLocked() / float64(concurrent))
	if est < 0 {
		est = 0
	}
	return est
}
