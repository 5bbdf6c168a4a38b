// Package domain defines the core value types of toolhost: sessions and
// coded errors. It has no I/O dependencies.
package domain
