package dispatch

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxConcurrent = 20
	// Rolling window of response times kept for the in-memory average.
	responseTimeWindow = 100
)

// Config encapsulates all tunables for Dispatcher construction.
type Config struct {
	// Maximum simultaneous outstanding remote calls. Ignored when Gate is
	// injected.
	MaxConcurrent int
	// Outbound requests per second towards the inference endpoint; 0
	// disables smoothing.
	RequestsPerSecond float64
}
