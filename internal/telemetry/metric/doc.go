// Package metric provides the Prometheus metrics of a toolhost server.
//
// Each server owns a private registry so several servers can run in one
// process (tests do). Metrics are exposed at /metrics.
package metric
