// Package httpserver provides the HTTP/HTTPS transport for toolhost.
//
// The transport serves one http.Handler over a pre-bound listener:
//
//   - Plaintext: http.Server.Serve on the listener
//   - TLS: an explicit accept loop with a per-connection handshake
//     timeout, handing established connections to the same http.Server
//
// Features:
//
//   - SO_REUSEADDR/SO_REUSEPORT listeners
//   - Middleware chain: Recover, Track, RequestID, RateLimit, CORS, AccessLog
//   - Optional OpenTelemetry instrumentation
//   - Done/Err/Shutdown for the shutdown orchestrator
package httpserver
