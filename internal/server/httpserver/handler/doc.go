// Package handler provides HTTP request handlers for toolhost.
//
// This package contains handlers for all HTTP endpoints:
//
//   - mcp.go: JSON-RPC 2.0 tool endpoint (POST/DELETE /mcp)
//   - admin.go: connection teardown, history and usage queries
//   - health.go: health, readiness, status and metrics
//
// Administrative and health responses use the Response envelope. The
// /mcp endpoint speaks plain JSON-RPC.
package handler
