// Package dispatch implements the direct-mode admission controller and
// deduplication-aware dispatcher. It is structured into small files by
// concern:
//
//   - dispatcher.go: core Dispatcher type, constructor, counters.
//   - config.go: Config and package defaults.
//   - fingerprint.go: deduplication key derivation.
//   - submit.go: Submit and the three admission strategies (dedup, remote
//     call, graceful fallback) with guaranteed cleanup.
//   - batch.go: bounded concurrent batch submission.
//   - report.go: Stats/Capacity reporting.
//
// Every terminal outcome emits exactly one Stats Sink event. Sink failures
// are swallowed and never affect the caller's request.
package dispatch
