// Package tlsroots manages TLS material for the server and the CLI.
//
//   - roots.go: trusted root pools for clients (system plus custom CA)
//   - watcher.go: server certificate hot-reload via fsnotify
package tlsroots
