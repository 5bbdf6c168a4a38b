// Package host assembles a toolhost server: telemetry stores, the tool
// catalog, the session manager, the HTTP transport, the memory monitor and
// the shutdown orchestrator that ties them together.
//
// Start returns once the transport is accepting. Run is the process entry
// point: it starts the server, waits for SIGINT/SIGTERM, and performs a
// bounded graceful shutdown.
package host
