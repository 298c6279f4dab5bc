package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"promptd/internal/admission"
	"promptd/internal/inference"
	"promptd/internal/stats"
	"promptd/pkg/types"
)

// inflightEntry is the shared single-assignment result cell for one
// fingerprint. resolve closes done exactly once; waiters read result/err only
// after done is closed.
type inflightEntry struct {
	done   chan struct{}
	result string
	err    error

	once sync.Once
}

func (e *inflightEntry) resolve(result string, err error) {
	e.once.Do(func() {
		e.result = result
		e.err = err
		close(e.done)
	})
}

// activeRecord exists only while a remote call is outstanding.
type activeRecord struct {
	req     types.AskRequest
	started time.Time
}

// Dispatcher is the direct-mode admission controller. It deduplicates
// identical concurrent requests, enforces the concurrency ceiling via the
// gate, and degrades to a structured fallback when saturated.
type Dispatcher struct {
	client inference.Client
	sink   stats.Sink
	gate   *admission.Gate
	log    zerolog.Logger

	// Outbound smoothing towards the endpoint; nil when disabled.
	limiter *rate.Limiter

	mu       sync.Mutex
	inflight map[uint64]*inflightEntry
	active   map[string]activeRecord

	totalRequests      uint64
	successfulRequests uint64
	failedRequests     uint64
	dedupHits          uint64
	fallbackResponses  uint64
	totalTokens        uint64
	responseTimes      []float64

	startTime time.Time
}

// New constructs a Dispatcher. gate may be shared with a Scheduler; pass nil
// to create a private gate sized by cfg.MaxConcurrent.
func New(client inference.Client, sink stats.Sink, gate *admission.Gate, cfg Config, log zerolog.Logger) *Dispatcher {
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
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Dispatcher{
		client:    client,
		sink:      sink,
		gate:      gate,
		log:       log,
		limiter:   limiter,
		inflight:  make(map[uint64]*inflightEntry),
		active:    make(map[string]activeRecord),
		startTime: time.Now(),
	}
}

// logEvent delivers one sink event, best effort. A failing or panicking sink
// is reported locally and never affects the request outcome.
func (d *Dispatcher) logEvent(ctx context.Context, ev stats.Event) {
	stats.LogBestEffort(ctx, d.sink, d.log, ev)
}
