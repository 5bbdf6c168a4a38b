// Package shutdown coordinates graceful server termination.
//
// A server is stopped through a Handle: Cancel fires a level-triggered
// Signal, and WaitForCompletion reports one of three outcomes: completed,
// timed out, or signal lost (the supervising goroutine died before it
// could confirm completion).
//
// The Orchestrator is the single supervisor. It races the Signal against
// unexpected transport exit, drains the transport under a share of the
// shutdown budget, waits for in-flight requests, then runs the Registry's
// hooks in reverse registration order before firing completion.
package shutdown
