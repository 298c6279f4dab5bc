package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"promptd/pkg/types"
)

// Event is one terminal request outcome. Exactly one Event is emitted per
// finished, deduplicated, rejected or failed request.
type Event struct {
	Fingerprint string
	// Queue-mode request id, when the event came from the scheduler.
	RequestID string
	Success   bool
	// Caller-observed elapsed time.
	Elapsed time.Duration
	// 0 unless a real remote call happened.
	TokensUsed int
	// remote_call, deduplicated, fallback or error.
	Source   string
	Priority types.Priority
	UserID   string
	// Failure detail when Success is false.
	ErrorMessage string
	// Model that served the call, when known.
	Model     string
	Timestamp time.Time
}

// Sink receives request outcome events. Implementations must be cheap and
// must not panic; callers treat Log as fire-and-forget and swallow errors.
type Sink interface {
	Log(ctx context.Context, ev Event) error
}

// LogBestEffort delivers one event to sink, swallowing errors and panics.
// Failures are reported to fallback so the record is not silently lost, but
// they never affect the caller's request.
func LogBestEffort(ctx context.Context, sink Sink, fallback zerolog.Logger, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			fallback.Warn().Interface("panic", r).Msg("stats sink panicked; event dropped")
		}
	}()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := sink.Log(ctx, ev); err != nil {
		fallback.Warn().Err(err).
			Str("source", ev.Source).
			Str("fingerprint", ev.Fingerprint).
			Msg("stats sink unavailable; event logged locally only")
	}
}

// Aggregates summarizes everything a sink has recorded so far.
type Aggregates struct {
	TotalRequests   uint64            `json:"total_requests"`
	Successful      uint64            `json:"successful_requests"`
	Failed          uint64            `json:"failed_requests"`
	TotalTokensUsed uint64            `json:"total_tokens_used"`
	AvgResponseTime float64           `json:"avg_response_time"`
	BySource        map[string]uint64 `json:"by_source"`
	RecordsStored   uint64            `json:"records_stored"`
}

// DailyUsage is one calendar day of recorded outcomes.
type DailyUsage struct {
	// ISO date (UTC) the row aggregates.
	Date            string  `json:"date"`
	TotalRequests   uint64  `json:"total_requests"`
	Successful      uint64  `json:"successful_requests"`
	Failed          uint64  `json:"failed_requests"`
	TokensUsed      uint64  `json:"tokens_used"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// Reporter is implemented by sinks that can be queried back, e.g. the SQLite
// store. The HTTP layer surfaces these when available.
type Reporter interface {
	Aggregates(ctx context.Context) (Aggregates, error)
	Recent(ctx context.Context, limit int) ([]Event, error)
	Analytics(ctx context.Context, days int) ([]DailyUsage, error)
}

// Maintainer is implemented by sinks with a retention policy that can be
// triggered on demand.
type Maintainer interface {
	Cleanup(ctx context.Context) (int64, error)
}

// NopSink drops all events. Used when persistence is disabled.
type NopSink struct{}

func (NopSink) Log(context.Context, Event) error { return nil }

// LoggerSink writes events to a zerolog logger. It is the degraded fallback
// when the persistent store is unavailable.
type LoggerSink struct {
	log zerolog.Logger
}

// NewLoggerSink wraps l as a Sink.
func NewLoggerSink(l zerolog.Logger) LoggerSink { return LoggerSink{log: l} }

func (s LoggerSink) Log(_ context.Context, ev Event) error {
	s.log.Info().
		Str("fingerprint", ev.Fingerprint).
		Bool("success", ev.Success).
		Dur("elapsed", ev.Elapsed).
		Int("tokens", ev.TokensUsed).
		Str("source", ev.Source).
		Str("priority", string(ev.Priority)).
		Str("user_id", ev.UserID).
		Str("error", ev.ErrorMessage).
		Msg("request logged")
	return nil
}
