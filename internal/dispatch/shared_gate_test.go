package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"promptd/internal/admission"
	"promptd/internal/inference"
	"promptd/internal/scheduler"
	"promptd/pkg/types"
)

// One gate shared between both admission modes: work held by the queued
// scheduler must count against the direct dispatcher's capacity.
func TestSubmit_SharedGateCountsQueuedWork(t *testing.T) {
	gate := admission.NewGate(1)
	sink := &recordingSink{}

	blocker := &fakeClient{
		result:  inference.Result{Content: "queued result"},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	sched := scheduler.New(blocker, sink, gate, scheduler.Config{
		TickInterval: 5 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	sched.Enqueue(ctx, types.AskRequest{Prompt: "queued work", UserID: "q"})
	<-blocker.started // the scheduler now holds the only slot

	d := New(&fakeClient{result: inference.Result{Content: "direct result"}}, sink, gate, Config{}, zerolog.Nop())

	resp := d.Submit(context.Background(), types.AskRequest{Prompt: "direct work", UserID: "d"})
	if resp.Source != types.SourceFallback {
		t.Fatalf("source = %q, want fallback", resp.Source)
	}
	if reason := resp.Metadata["fallback_reason"]; reason != "capacity_full" {
		t.Fatalf("fallback_reason = %v, want capacity_full", reason)
	}

	close(blocker.block)
	if !waitFor(time.Second, func() bool { return gate.InUse() == 0 }) {
		t.Fatal("scheduler never released the shared slot")
	}
	// Stop the drain loop so its empty-queue probe acquire cannot race the
	// direct submission below.
	cancel()
	time.Sleep(20 * time.Millisecond)

	resp = d.Submit(context.Background(), types.AskRequest{Prompt: "direct work", UserID: "d"})
	if !resp.Success || resp.Source != types.SourceRemoteCall {
		t.Fatalf("after release: %+v", resp)
	}
}
