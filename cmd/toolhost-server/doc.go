// Package main provides the entry point for toolhost-server.
//
// toolhost-server hosts a catalog of tools behind an MCP-style JSON-RPC
// endpoint, records per-connection history and usage, and shuts down
// gracefully on SIGINT or SIGTERM.
//
// Usage:
//
//	toolhost-server --http 127.0.0.1:5080
//	toolhost-server --config /etc/toolhost/server.yaml --log-level debug
//
// Configuration is read from defaults, then the YAML file, then
// TOOLHOST_* environment variables, then flags.
package main
