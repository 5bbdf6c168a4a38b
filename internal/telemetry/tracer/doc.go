// Package tracer sets up OpenTelemetry tracing for the HTTP transport.
package tracer
