// Package service provides domain services for toolhost.
//
// Domain services orchestrate operations on domain models. They define
// interfaces for their telemetry dependencies, allowing for dependency
// injection and testability.
//
// This package contains:
//
//   - Tools: tool dispatch with history, usage and metric recording
//
// Services are safe for concurrent use.
package service
