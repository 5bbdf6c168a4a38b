package monitor

import (
	"fmt"
	"runtime"

	"github.com/prometheus/procfs"
)

// MemoryUsed returns the resident set size of this process. When procfs is
// unavailable it falls back to the memory obtained by the Go runtime and
// reports false.
func MemoryUsed() (uint64, bool) {
	if p, err := procfs.Self(); err == nil {
		if stat, err := p.Stat(); err == nil {
			if rss := stat.ResidentMemory(); rss > 0 {
				return uint64(rss), true
			}
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, false
}

// FormatBytes renders n with a binary unit and two decimals.
func FormatBytes(n uint64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
