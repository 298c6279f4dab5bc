package inference

import (
	"time"

	"promptd/pkg/types"
)

// Params are the generation knobs for a single remote call.
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

// ParamsFor maps a priority level to its generation budget. Higher urgency
// gets a shorter answer and a tighter deadline.
func ParamsFor(p types.Priority) Params {
	switch p {
	case types.PriorityHigh:
		return Params{MaxTokens: 150, Temperature: 0.3, TopP: 0.9, Timeout: 8 * time.Second}
	case types.PriorityNormal:
		return Params{MaxTokens: 300, Temperature: 0.5, TopP: 0.9, Timeout: 15 * time.Second}
	default:
		return Params{MaxTokens: 500, Temperature: 0.7, TopP: 0.9, Timeout: 25 * time.Second}
	}
}
