// Package snapshot writes whole-state JSON snapshots atomically.
//
// A snapshot is written to "<name>.tmp" next to the target, synced, and
// renamed over the target. Readers therefore see either the previous
// snapshot or the new one, never a partial file.
package snapshot
