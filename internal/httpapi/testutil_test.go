package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"promptd/internal/stats"
	"promptd/pkg/types"
)

// fakeDirect scripts the dispatcher surface.
type fakeDirect struct {
	submit    func(req types.AskRequest) types.AskResponse
	lastBatch types.BatchRequest
}

func (f *fakeDirect) Submit(_ context.Context, req types.AskRequest) types.AskResponse {
	if f.submit != nil {
		return f.submit(req)
	}
	return types.AskResponse{Success: true, Result: "ok", Source: types.SourceRemoteCall}
}

func (f *fakeDirect) SubmitBatch(_ context.Context, batch types.BatchRequest) types.BatchResponse {
	f.lastBatch = batch
	results := make([]types.AskResponse, len(batch.Requests))
	for i := range results {
		results[i] = types.AskResponse{Success: true, Result: "ok", Source: types.SourceRemoteCall}
	}
	return types.BatchResponse{BatchID: batch.BatchID, TotalRequests: len(batch.Requests), Results: results}
}

func (f *fakeDirect) Stats() types.DispatcherStats {
	return types.DispatcherStats{TotalRequests: 3, MaxConcurrent: 20}
}

func (f *fakeDirect) Capacity() types.CapacityReport {
	return types.CapacityReport{Status: "low_load", MaxConcurrent: 20}
}

// fakeQueue scripts the scheduler surface.
type fakeQueue struct {
	enqueue  func(req types.AskRequest) types.EnqueueResponse
	statuses map[string]types.RequestStatus
}

func (f *fakeQueue) Enqueue(_ context.Context, req types.AskRequest) types.EnqueueResponse {
	if f.enqueue != nil {
		return f.enqueue(req)
	}
	return types.EnqueueResponse{RequestID: "req-1", Status: "queued", QueuePosition: 1}
}

func (f *fakeQueue) Status(id string) (types.RequestStatus, bool) {
	st, ok := f.statuses[id]
	return st, ok
}

func (f *fakeQueue) Stats() types.QueueStats {
	return types.QueueStats{TotalQueued: 2, QueueHealth: "healthy"}
}

// fakeReporter serves canned aggregates, recent events and analytics, and
// records cleanup invocations.
type fakeReporter struct {
	agg      stats.Aggregates
	recent   []stats.Event
	usage    []stats.DailyUsage
	lastDays int
	deleted  int64
	cleanups int
	err      error
}

func (f *fakeReporter) Aggregates(context.Context) (stats.Aggregates, error) {
	return f.agg, f.err
}

func (f *fakeReporter) Recent(context.Context, int) ([]stats.Event, error) {
	return f.recent, f.err
}

func (f *fakeReporter) Analytics(_ context.Context, days int) ([]stats.DailyUsage, error) {
	f.lastDays = days
	return f.usage, f.err
}

func (f *fakeReporter) Cleanup(context.Context) (int64, error) {
	f.cleanups++
	return f.deleted, f.err
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
