package history

import "time"

// Query selects records from a connection's history.
type Query struct {
	// MaxResults caps forward reads; it is clamped to MaxEntries and
	// ignored for tail reads.
	MaxResults int
	// Offset >= 0 reads forward from that position. Offset < 0 returns the
	// last |Offset| records.
	Offset int
	// ToolName keeps only calls to that tool when set.
	ToolName string
	// Since keeps records at or after this RFC3339 time when set. An
	// unparsable value is ignored.
	Since string
}

// Recent returns the records of connID matching q.
func (s *Store) Recent(connID string, q Query) []Record {
	recs, ok := s.entries.Get(connID)
	if !ok {
		return []Record{}
	}
	return selectRecords(recs, q, s.cfg.MaxEntries)
}

func selectRecords(recs []Record, q Query, maxEntries int) []Record {
	var since time.Time
	hasSince := false
	if q.Since != "" {
		if t, err := time.Parse(time.RFC3339Nano, q.Since); err == nil {
			since, hasSince = t, true
		}
	}

	filtered := make([]Record, 0, len(recs))
	for _, r := range recs {
		if q.ToolName != "" && r.ToolName != q.ToolName {
			continue
		}
		if hasSince {
			if t, ok := r.Time(); ok && t.Before(since) {
				continue
			}
		}
		filtered = append(filtered, r)
	}

	total := len(filtered)
	var start, end int
	if q.Offset < 0 {
		n := total
		if q.Offset >= -total {
			n = -q.Offset
		}
		start, end = total-n, total
	} else {
		limit := q.MaxResults
		if limit < 0 {
			limit = 0
		}
		if limit > maxEntries {
			limit = maxEntries
		}
		start = q.Offset
		if start > total {
			start = total
		}
		end = start + limit
		if end > total {
			end = total
		}
	}
	return filtered[start:end]
}
