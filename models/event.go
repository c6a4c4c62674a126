// api/models/event.go
package models

import (
	"time"
)

// Event types accepted by the pipeline. The set is closed; anything else is
// rejected at the collection endpoint.
const (
	EventTypePageview      = "pageview"
	EventTypeOutboundClick = "outbound_click"
	EventTypeSessionStart  = "session_start"
	EventTypeSessionEnd    = "session_end"
	EventTypeCustom        = "custom"
)

// ValidEventType reports whether t is one of the closed event-type variants.
func ValidEventType(t string) bool {
	switch t {
	case EventTypePageview, EventTypeOutboundClick, EventTypeSessionStart, EventTypeSessionEnd, EventTypeCustom:
		return true
	default:
		return false
	}
}

// Event represents a single analytics event.
//
// The client sets everything up to ClientVersion. The fields from IPHash
// onward are server-enriched at ingestion and are never trusted from the
// client.
type Event struct {
	EventID         string            `json:"event_id,omitempty"`
	EventType       string            `json:"event_type" binding:"required"`
	Timestamp       time.Time         `json:"timestamp" binding:"required"`
	URL             string            `json:"url"`
	Title           string            `json:"title,omitempty"`
	Referrer        string            `json:"referrer,omitempty"`
	UserAgent       string            `json:"user_agent"`
	Language        string            `json:"language,omitempty"`
	VisitorID       string            `json:"visitor_id" binding:"required"`
	SessionID       string            `json:"session_id" binding:"required"`
	Screen          string            `json:"screen,omitempty"`
	Additional      map[string]string `json:"additional,omitempty"`
	ClientGenerated bool              `json:"client_generated"`
	ClientVersion   string            `json:"client_version"`

	// Server-enriched fields, set by the collection endpoint only.
	IPHash     string    `json:"ip_hash,omitempty"`
	Country    string    `json:"country,omitempty"`
	OS         string    `json:"os,omitempty"`
	Browser    string    `json:"browser,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// CollectRequest is the wire shape of a delivery batch.
type CollectRequest struct {
	Events []Event `json:"events" binding:"dive"`
}
