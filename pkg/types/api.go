package types

// Source tags identify which path produced an AskResponse.
const (
	SourceRemoteCall   = "remote_call"
	SourceDeduplicated = "deduplicated"
	SourceFallback     = "fallback"
	SourceError        = "error"
)

// MaxPromptLen bounds accepted prompt length in characters.
const MaxPromptLen = 4000

// MaxBatchSize bounds the number of requests accepted in one batch.
const MaxBatchSize = 50

// AskRequest is a direct-mode (and queued-mode) prompt submission.
type AskRequest struct {
	// Required prompt text, at most 4000 characters.
	// example: Explain quantum computing in two sentences.
	Prompt string `json:"prompt" example:"Explain quantum computing in two sentences."`
	// Urgency level: high, normal or low ("instant"/"fast" accepted as aliases).
	// example: normal
	Priority string `json:"priority,omitempty" example:"normal"`
	// Optional caller identifier used for deduplication and analytics.
	// example: user-42
	UserID string `json:"user_id,omitempty" example:"user-42"`
	// Optional per-request timeout override in seconds; 0 uses the
	// priority-derived default.
	// example: 10
	TimeoutSec int `json:"timeout_sec,omitempty" example:"10"`
}

// AskResponse is the terminal outcome of a direct-mode submission.
type AskResponse struct {
	// True when the prompt produced generated text.
	Success bool `json:"success"`
	// Generated text on success, or a user-facing message otherwise.
	Result string `json:"result"`
	// Caller-observed elapsed time in seconds.
	// example: 1.42
	ResponseTime float64 `json:"response_time" example:"1.42"`
	// One of remote_call, deduplicated, fallback, error.
	// example: remote_call
	Source string `json:"source" example:"remote_call"`
	// Structured per-outcome details (tokens, model, load, retry hints).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BatchRequest carries up to 50 prompts processed concurrently.
type BatchRequest struct {
	// Optional caller-supplied batch identifier.
	BatchID string `json:"batch_id,omitempty"`
	// Ordered requests; the response preserves this order.
	Requests []AskRequest `json:"requests"`
}

// BatchResponse returns one AskResponse per input, in input order.
type BatchResponse struct {
	BatchID       string        `json:"batch_id"`
	TotalRequests int           `json:"total_requests"`
	Results       []AskResponse `json:"results"`
	// Wall-clock time for the whole batch in seconds.
	TotalTime float64 `json:"total_time"`
}

// EnqueueResponse acknowledges a queued-mode submission.
type EnqueueResponse struct {
	// Assigned request id; empty when the queue rejected the request.
	RequestID string `json:"request_id"`
	// queued or failed.
	Status string `json:"status"`
	// Human-readable acceptance or rejection message.
	Message string `json:"message"`
	// 1-based position across all lanes at enqueue time.
	QueuePosition int `json:"queue_position,omitempty"`
	// Estimated wait in whole seconds before processing starts.
	EstimatedWaitSec int `json:"estimated_wait_sec,omitempty"`
	CreatedAtUnix    int64 `json:"created_at_unix"`
}

// RequestStatus reports where a queued request currently is.
type RequestStatus struct {
	RequestID string `json:"request_id"`
	// queued, processing, completed or failed.
	Status string `json:"status"`
	// Monotonic 0-100 indicator while processing.
	Progress int `json:"progress,omitempty"`
	// 1-based position while still queued.
	QueuePosition int `json:"queue_position,omitempty"`
	// Generated text once completed.
	Result string `json:"result,omitempty"`
	// Failure detail once failed.
	Error string `json:"error,omitempty"`
	// Observed processing duration in seconds for terminal states.
	ProcessingTime  float64 `json:"processing_time,omitempty"`
	CreatedAtUnix   int64   `json:"created_at_unix"`
	CompletedAtUnix int64   `json:"completed_at_unix,omitempty"`
}

// QueueStats is returned by GET /queue/stats.
type QueueStats struct {
	TotalQueued     int `json:"total_queued"`
	TotalProcessing int `json:"total_processing"`
	TotalCompleted  uint64 `json:"total_completed"`
	TotalFailed     uint64 `json:"total_failed"`
	// Rolling average processing time in seconds.
	AvgProcessingTime float64 `json:"avg_processing_time"`
	// healthy, busy or overloaded relative to queue capacity.
	QueueHealth string `json:"queue_health"`
}

// DispatcherStats is returned by GET /ai/stats.
type DispatcherStats struct {
	TotalRequests      uint64  `json:"total_requests"`
	SuccessfulRequests uint64  `json:"successful_requests"`
	FailedRequests     uint64  `json:"failed_requests"`
	DeduplicatedHits   uint64  `json:"deduplicated_hits"`
	FallbackResponses  uint64  `json:"fallback_responses"`
	TotalTokensUsed    uint64  `json:"total_tokens_used"`
	AvgResponseTime    float64 `json:"avg_response_time"`
	ActiveProcessing   int     `json:"active_processing"`
	MaxConcurrent      int     `json:"max_concurrent"`
	UptimeSeconds      int64   `json:"uptime_seconds"`
}

// CapacityReport classifies current dispatcher load for GET /ai/capacity.
type CapacityReport struct {
	// low_load, medium_load, high_load or at_capacity.
	Status           string  `json:"status"`
	ActiveProcessing int     `json:"active_processing"`
	MaxConcurrent    int     `json:"max_concurrent"`
	LoadPercent      float64 `json:"load_percent"`
	Recommendation   string  `json:"recommendation"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
