// Package events delivers typed notifications about health transitions,
// cache eviction bursts and degradation changes to interested collaborators.
//
// Delivery is fire-and-forget: Publish never blocks, and a subscriber that
// falls behind loses events (counted by OverflowCount) rather than slowing
// the component that produced them.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event
type Type string

const (
	TypeHealthStatusChanged Type = "health.status_changed"
	TypeHealthUnhealthy     Type = "health.unhealthy"
	TypeHealthRecovered     Type = "health.recovered"

	TypeCacheEvictionBurst Type = "cache.eviction_burst"

	TypeDegradationActivated    Type = "degradation.activated"
	TypeDegradationEscalated    Type = "degradation.escalated"
	TypeDegradationRecovered    Type = "degradation.recovered"
	TypeDegradationTriggerFired Type = "degradation.trigger_fired"
)

// Source names the component that emitted an event
const (
	SourceHealth      = "health"
	SourceCache       = "cache"
	SourceDegradation = "degradation"
)

// Event is a single notification
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Source    string                 `json:"source"`
	Subject   string                 `json:"subject,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New creates an event with a fresh ID
func New(eventType Type, source, subject string, ts time.Time, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Subject:   subject,
		Timestamp: ts,
		Data:      data,
	}
}

// Filter selects events for a subscription.
// Only events matching ALL non-empty criteria are delivered.
type Filter struct {
	Types    []Type   `json:"types,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Subjects []string `json:"subjects,omitempty"`
}

// Matches reports whether the event passes the filter
func (f Filter) Matches(event Event) bool {
	if len(f.Types) > 0 && !contains(f.Types, event.Type) {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, event.Source) {
		return false
	}
	if len(f.Subjects) > 0 && !contains(f.Subjects, event.Subject) {
		return false
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
