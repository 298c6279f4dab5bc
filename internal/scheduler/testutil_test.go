package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"promptd/internal/inference"
	"promptd/internal/stats"
)

// fakeClient records the order prompts arrive in. A non-nil block channel
// makes Generate wait until it is closed.
type fakeClient struct {
	mu      sync.Mutex
	prompts []string
	result  inference.Result
	err     error
	block   chan struct{}
}

func (f *fakeClient) Generate(ctx context.Context, prompt string, _ inference.Params) (inference.Result, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
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

func (f *fakeClient) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []stats.Event
}

func (s *recordingSink) Log(_ context.Context, ev stats.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) last() (stats.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return stats.Event{}, false
	}
	return s.events[len(s.events)-1], true
}

func newTestScheduler(client inference.Client, sink stats.Sink, capacity, maxConcurrent int) *Scheduler {
	return New(client, sink, nil, Config{
		QueueCapacity: capacity,
		MaxConcurrent: maxConcurrent,
	}, zerolog.Nop())
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
