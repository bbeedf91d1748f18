package syncer

import (
	"time"

	"github.com/nerrad567/knxsync/internal/entity"
)

// EventKind identifies what the dispatcher processed.
type EventKind string

const (
	EventStateChange EventKind = "state_change"
	EventTelegram    EventKind = "telegram"
	EventReload      EventKind = "reload"
)

// Outcome is the result of processing one event for one entity.
type Outcome string

const (
	OutcomeHandled Outcome = "handled"
	// OutcomeIgnored covers payloads or values with no valid encoding.
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// Event describes one processed event. Telegram events are emitted once
// per handler the telegram was routed to.
type Event struct {
	Kind      EventKind       `json:"kind"`
	EntityID  string          `json:"entity_id,omitempty"`
	Category  entity.Category `json:"category,omitempty"`
	Address   string          `json:"address,omitempty"`
	Telegram  string          `json:"telegram,omitempty"`
	State     string          `json:"state,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	Entities  int             `json:"entities,omitempty"`
	Duration  time.Duration   `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
}

// Observer receives every event. Observe runs on the dispatch goroutine
// and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to several observers. Nil entries are skipped.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}
