package tracker

import "time"

// MaxHistorySize bounds the in-memory sync log. Oldest entries are evicted
// first once the bound is reached.
const MaxHistorySize = 50

// SyncRecord is one completed sync attempt, success or failure.
type SyncRecord struct {
	ID               string           `json:"id"`
	Timestamp        time.Time        `json:"timestamp"`
	DistanceMiles    float64          `json:"distance_miles"`
	Steps            int              `json:"steps"`
	DurationMinutes  int              `json:"duration_minutes"`
	ConversionMethod ConversionMethod `json:"conversion_method,omitempty"`
	ActivityType     string           `json:"activity_type"`
	Success          bool             `json:"success"`
	LogID            int64            `json:"log_id,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// history is a FIFO log of at most max records.
type history struct {
	max     int
	records []SyncRecord
}

func (h *history) append(rec SyncRecord) {
	h.records = append(h.records, rec)
	if len(h.records) > h.max {
		n := copy(h.records, h.records[1:])
		h.records = h.records[:n]
	}
}

func (h *history) snapshot() []SyncRecord {
	out := make([]SyncRecord, len(h.records))
	copy(out, h.records)
	return out
}
