// Package cmap provides a sharded concurrent map keyed by string.
//
// Per-connection state (tool history rings, usage counters, sessions) is
// read from many request goroutines while a single owner writes it. Keys
// are spread over a power-of-two number of shards with murmur3, and each
// shard has its own RWMutex, so readers of different connections do not
// contend.
//
// Usage:
//
//	m := cmap.New[[]Record]()
//	m.Update(connID, func(old []Record, ok bool) []Record { ... })
//	recs, ok := m.Get(connID)
package cmap
