// Package main provides the entry point for toolhost-cli, the admin client
// of toolhost-server.
//
// Usage:
//
//	toolhost-cli status
//	toolhost-cli history --max 20 <connection-id>
//	toolhost-cli usage <connection-id>
//	toolhost-cli disconnect <connection-id>
package main
