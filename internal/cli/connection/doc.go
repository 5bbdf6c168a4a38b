// Package connection is the toolhost-cli HTTP client for the server's
// admin surface.
//
// Requests are retried on connection errors and 5xx responses through
// go-retryablehttp. Retry chatter is logged with go-hclog and stays quiet
// unless --verbose is set.
package connection
