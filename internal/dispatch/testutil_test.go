package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"promptd/internal/inference"
	"promptd/internal/stats"
)

// fakeClient is an in-memory inference client. It counts calls and can block
// until released to simulate a long-running remote call.
type fakeClient struct {
	calls   atomic.Int64
	result  inference.Result
	err     error
	block   chan struct{} // when non-nil, Generate waits for close
	started chan struct{} // when non-nil, receives one signal per call start
}

func (f *fakeClient) Generate(ctx context.Context, prompt string, p inference.Params) (inference.Result, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return inference.Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return inference.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeClient) Close() error { return nil }

// recordingSink captures every event for log-count assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []stats.Event
	err    error
}

func (s *recordingSink) Log(_ context.Context, ev stats.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) bySource(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Source == source {
			n++
		}
	}
	return n
}

func newTestDispatcher(client inference.Client, sink stats.Sink, maxConcurrent int) *Dispatcher {
	return New(client, sink, nil, Config{MaxConcurrent: maxConcurrent}, zerolog.Nop())
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
