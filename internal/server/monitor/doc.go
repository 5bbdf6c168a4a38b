// Package monitor samples process memory while the server runs and warns
// when resident memory grows sharply between samples.
package monitor
