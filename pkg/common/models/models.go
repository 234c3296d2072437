package models

import (
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // batch_recorded, link_decision
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventBatchRecorded = "batch_recorded"
	EventLinkDecision  = "link_decision"
)

// BatchIDFromEvent extracts the batch reference carried by a
// batch_recorded event.
func BatchIDFromEvent(event Event) (string, bool) {
	if event.Data == nil {
		return "", false
	}
	id, ok := event.Data["batch_id"].(string)
	return id, ok && id != ""
}
