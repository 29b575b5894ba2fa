package testutil

import (
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/events"
)

// DrainEvents returns every event currently buffered in sub without blocking
func DrainEvents(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// EventTypes returns the types of evs in order
func EventTypes(evs []events.Event) []events.Type {
	out := make([]events.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
