package types

import "strings"

// Priority is the single ordered urgency scale shared by the direct dispatcher
// and the queued scheduler. Higher urgency means a tighter generation budget
// (fewer tokens, shorter timeout) and an earlier lane.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists all levels from most to least urgent. Lane iteration and
// queue-position math rely on this order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority normalizes a wire value to a known level. The legacy spellings
// "instant" and "fast" are accepted as aliases for high and normal. Anything
// unrecognized (including empty) falls back to normal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "instant":
		return PriorityHigh
	case "normal", "fast", "":
		return PriorityNormal
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Rank returns the lane index of p: 0 for high, 1 for normal, 2 for low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}
