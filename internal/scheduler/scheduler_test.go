package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"promptd/internal/inference"
	"promptd/pkg/types"
)

func TestEnqueue_ReturnsQueuedWithPositionAndEstimate(t *testing.T) {
	s := newTestScheduler(&fakeClient{}, &recordingSink{}, 10, 5)

	resp := s.Enqueue(context.Background(), types.AskRequest{Prompt: "p1", Priority: "normal"})
	if resp.Status != "queued" || resp.RequestID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.QueuePosition != 1 {
		t.Fatalf("position = %d, want 1", resp.QueuePosition)
	}
	// No observations yet: 1 * 10s / 5 slots.
	if resp.EstimatedWaitSec != 2 {
		t.Fatalf("estimate = %d, want 2", resp.EstimatedWaitSec)
	}
}

func TestEnqueue_PositionAccountsForStricterLanes(t *testing.T) {
	s := newTestScheduler(&fakeClient{}, &recordingSink{}, 10, 1)

	s.Enqueue(context.Background(), types.AskRequest{Prompt: "a", Priority: "high"})
	normal := s.Enqueue(context.Background(), types.AskRequest{Prompt: "b", Priority: "normal"})
	low := s.Enqueue(context.Background(), types.AskRequest{Prompt: "c", Priority: "low"})

	if normal.QueuePosition != 2 {
		t.Fatalf("normal position = %d, want 2", normal.QueuePosition)
	}
	if low.QueuePosition != 3 {
		t.Fatalf("low position = %d, want 3", low.QueuePosition)
	}
}

func TestEnqueue_RejectsInvalidPrompt(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(&fakeClient{}, sink, 10, 1)

	long := strings.Repeat("a", types.MaxPromptLen+1)
	for _, prompt := range []string{"", "   ", long} {
		resp := s.Enqueue(context.Background(), types.AskRequest{Prompt: prompt})
		if resp.Status != "failed" || resp.RequestID != "" {
			t.Fatalf("prompt %q: expected refusal without id, got %+v", prompt, resp)
		}
	}
	if got := s.Stats().TotalQueued; got != 0 {
		t.Fatalf("queued = %d, want 0", got)
	}
	ev, ok := sink.last()
	if !ok || ev.ErrorMessage != "invalid_prompt" || ev.Source != types.SourceError {
		t.Fatalf("expected invalid_prompt event, got %+v", ev)
	}
}

func TestEnqueue_RefusesWhenQueueFull(t *testing.T) {
	sink := &recordingSink{}
	s := newTestScheduler(&fakeClient{}, sink, 2, 1)

	s.Enqueue(context.Background(), types.AskRequest{Prompt: "a"})
	s.Enqueue(context.Background(), types.AskRequest{Prompt: "b"})
	resp := s.Enqueue(context.Background(), types.AskRequest{Prompt: "c"})

	if resp.Status != "failed" || resp.RequestID != "" {
		t.Fatalf("expected refusal without id, got %+v", resp)
	}
	ev, ok := sink.last()
	if !ok || ev.ErrorMessage != "queue_full" {
		t.Fatalf("expected queue_full event, got %+v", ev)
	}
}

func TestTick_DrainsLanesInStrictPriorityOrder(t *testing.T) {
	client := &fakeClient{result: inference.Result{Content: "ok"}}
	s := newTestScheduler(client, &recordingSink{}, 10, 1)
	ctx := context.Background()

	// Enqueue against priority order; drain must reorder.
	s.Enqueue(ctx, types.AskRequest{Prompt: "third", Priority: "low"})
	s.Enqueue(ctx, types.AskRequest{Prompt: "second", Priority: "normal"})
	s.Enqueue(ctx, types.AskRequest{Prompt: "first", Priority: "high"})

	for i := 0; i < 3; i++ {
		if err := s.tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if !waitFor(time.Second, func() bool { return s.gate.InUse() == 0 }) {
			t.Fatalf("tick %d never drained", i)
		}
	}

	got := client.seen()
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("prompts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prompts = %v, want %v", got, want)
		}
	}
}

func TestStatus_Transitions(t *testing.T) {
	client := &fakeClient{result: inference.Result{Content: "answer"}, block: make(chan struct{})}
	s := newTestScheduler(client, &recordingSink{}, 10, 1)
	ctx := context.Background()

	resp := s.Enqueue(ctx, types.AskRequest{Prompt: "p", Priority: "normal"})
	id := resp.RequestID

	st, ok := s.Status(id)
	if !ok || st.Status != "queued" || st.QueuePosition != 1 {
		t.Fatalf("queued status: %+v ok=%v", st, ok)
	}

	if err := s.tick(ctx); err != nil {
		t.Fatal(err)
	}
	if !waitFor(time.Second, func() bool {
		st, ok := s.Status(id)
		return ok && st.Status == "processing"
	}) {
		t.Fatal("never reached processing")
	}
	st, _ = s.Status(id)
	if st.Progress < 0 || st.Progress > 99 {
		t.Fatalf("progress out of range: %d", st.Progress)
	}

	close(client.block)
	if !waitFor(time.Second, func() bool {
		st, ok := s.Status(id)
		return ok && st.Status == "completed"
	}) {
		t.Fatal("never completed")
	}
	st, _ = s.Status(id)
	if st.Result != "answer" || st.CompletedAtUnix == 0 {
		t.Fatalf("completed status: %+v", st)
	}

	if _, ok := s.Status("no-such-id"); ok {
		t.Fatal("unknown id must not be found")
	}
}

func TestProcessEntry_FailureRecordedAndSlotReleased(t *testing.T) {
	client := &fakeClient{err: errors.New("remote down")}
	sink := &recordingSink{}
	s := newTestScheduler(client, sink, 10, 1)
	ctx := context.Background()

	resp := s.Enqueue(ctx, types.AskRequest{Prompt: "p"})
	if err := s.tick(ctx); err != nil {
		t.Fatal(err)
	}
	if !waitFor(time.Second, func() bool {
		st, ok := s.Status(resp.RequestID)
		return ok && st.Status == "failed"
	}) {
		t.Fatal("never failed")
	}
	st, _ := s.Status(resp.RequestID)
	if st.Error == "" {
		t.Fatalf("failed status must carry the error: %+v", st)
	}
	if s.gate.InUse() != 0 {
		t.Fatal("gate slot leaked")
	}
	ev, _ := sink.last()
	if ev.Success || ev.Source != types.SourceError || ev.RequestID != resp.RequestID {
		t.Fatalf("sink event: %+v", ev)
	}
}

func TestPurgeCompleted_DropsExpiredRecords(t *testing.T) {
	s := newTestScheduler(&fakeClient{}, &recordingSink{}, 10, 1)

	s.mu.Lock()
	s.completed["fresh"] = completedRecord{completedAt: time.Now()}
	s.completed["stale"] = completedRecord{completedAt: time.Now().Add(-completedRetention - time.Minute)}
	s.mu.Unlock()

	s.purgeCompleted()

	if _, ok := s.Status("fresh"); !ok {
		t.Fatal("fresh record purged too early")
	}
	if _, ok := s.Status("stale"); ok {
		t.Fatal("stale record survived purge")
	}
}

func TestStats_HealthClassification(t *testing.T) {
	cases := []struct {
		queued int
		want   string
	}{
		{0, "healthy"},
		{4, "healthy"},
		{5, "busy"},
		{8, "busy"},
		{9, "overloaded"},
	}
	for _, tc := range cases {
		s := newTestScheduler(&fakeClient{}, &recordingSink{}, 10, 1)
		for i := 0; i < tc.queued; i++ {
			s.Enqueue(context.Background(), types.AskRequest{Prompt: "p"})
		}
		if got := s.Stats().QueueHealth; got != tc.want {
			t.Fatalf("queued=%d: health = %q, want %q", tc.queued, got, tc.want)
		}
	}
}

func TestStats_AveragesObservedProcessingTimes(t *testing.T) {
	client := &fakeClient{result: inference.Result{Content: "ok"}}
	s := newTestScheduler(client, &recordingSink{}, 10, 1)
	ctx := context.Background()

	s.Enqueue(ctx, types.AskRequest{Prompt: "p"})
	if err := s.tick(ctx); err != nil {
		t.Fatal(err)
	}
	if !waitFor(time.Second, func() bool { return s.Stats().TotalCompleted == 1 }) {
		t.Fatal("request never completed")
	}
	st := s.Stats()
	if st.AvgProcessingTime < 0 || st.AvgProcessingTime >= defaultAvgProcessing {
		t.Fatalf("avg = %v, expected a small observed value", st.AvgProcessingTime)
	}
}
