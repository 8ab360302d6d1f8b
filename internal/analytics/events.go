package analytics

import "time"

type EventType string

const (
	EventSearch EventType = "search"
	EventFetch  EventType = "fetch"
)

// QueryEvent describes one served search or fetch call.
type QueryEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query,omitempty"`
	Terms     []string  `json:"terms,omitempty"`
	Hits      int       `json:"hits"`
	Line      int       `json:"line,omitempty"`
	Found     bool      `json:"found"`
	CacheHit  bool      `json:"cache_hit"`
	LatencyUs int64     `json:"latency_us"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
