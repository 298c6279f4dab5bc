package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"promptd/pkg/types"
)

// SubmitBatch processes up to MaxBatchSize requests concurrently and returns
// one response per input in the original order. A failing item never fails
// its siblings; each slot gets its own terminal response.
func (d *Dispatcher) SubmitBatch(ctx context.Context, batch types.BatchRequest) types.BatchResponse {
	start := time.Now()
	batchID := batch.BatchID
	if batchID == "" {
		batchID = fmt.Sprintf("batch_%d", start.Unix())
	}

	results := make([]types.AskResponse, len(batch.Requests))

	if len(batch.Requests) > types.MaxBatchSize {
		oversize := types.AskResponse{
			Success:      false,
			Result:       fmt.Sprintf("Batch too large. Maximum %d requests per batch.", types.MaxBatchSize),
			ResponseTime: 0.001,
			Source:       types.SourceError,
			Metadata:     map[string]any{"error": "batch_size_exceeded"},
		}
		for i := range results {
			results[i] = oversize
		}
		return types.BatchResponse{
			BatchID:       batchID,
			TotalRequests: len(batch.Requests),
			Results:       results,
			TotalTime:     time.Since(start).Seconds(),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range batch.Requests {
		i, req := i, req
		g.Go(func() error {
			results[i] = d.Submit(gctx, req)
			return nil
		})
	}
	// Workers never return errors; Submit converts every failure into a
	// response, so Wait only synchronizes completion.
	_ = g.Wait()

	return types.BatchResponse{
		BatchID:       batchID,
		TotalRequests: len(batch.Requests),
		Results:       results,
		TotalTime:     time.Since(start).Seconds(),
	}
}
