package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/knxsync/internal/infrastructure/mqtt"
)

const (
	// stateQoS is used for state subscriptions and service calls.
	stateQoS = 1

	// changeBufferSize is the per-subscriber StateChanges buffer.
	changeBufferSize = 256
)

// Messenger is the subset of *mqtt.Client the adapter needs.
type Messenger interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the adapter.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// MQTT is the platform adapter over an MQTT connection.
//
// Thread Safety: All methods are safe for concurrent use. Message handlers
// run on the MQTT client's delivery goroutine.
type MQTT struct {
	messenger Messenger
	topics    mqtt.Topics

	states  map[string]State
	tracked map[string]int
	mu      sync.RWMutex

	subscribers map[int]chan StateChange
	nextSubID   int
	subMu       sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewMQTT creates an adapter publishing and subscribing under topics.
func NewMQTT(messenger Messenger, topics mqtt.Topics) *MQTT {
	return &MQTT{
		messenger:   messenger,
		topics:      topics,
		states:      make(map[string]State),
		tracked:     make(map[string]int),
		subscribers: make(map[int]chan StateChange),
	}
}

// SetLogger sets the logger for the adapter.
func (p *MQTT) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// Track subscribes to an entity's state topic. Tracking is reference
// counted: the subscription ends when every returned release func has been
// called. The broker delivers the retained document shortly after the
// first Track, which fills the cache and emits a StateChange.
func (p *MQTT) Track(ctx context.Context, entityID string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.tracked[entityID]++
	first := p.tracked[entityID] == 1
	p.mu.Unlock()

	if first {
		if err := p.messenger.Subscribe(p.topics.EntityState(entityID), stateQoS, p.handleState); err != nil {
			p.untrack(entityID)
			return nil, fmt.Errorf("tracking %s: %w", entityID, err)
		}
	}

	var once sync.Once
	return func() { once.Do(func() { p.untrack(entityID) }) }, nil
}

func (p *MQTT) untrack(entityID string) {
	p.mu.Lock()
	p.tracked[entityID]--
	last := p.tracked[entityID] <= 0
	if last {
		delete(p.tracked, entityID)
		delete(p.states, entityID)
	}
	p.mu.Unlock()

	if last {
		if err := p.messenger.Unsubscribe(p.topics.EntityState(entityID)); err != nil {
			p.logWarn("failed to unsubscribe entity state", "entity_id", entityID, "error", err)
		}
	}
}

// Tracked reports whether entityID is currently tracked.
func (p *MQTT) Tracked(entityID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tracked[entityID] > 0
}

// StateChanges returns a stream of changes for every tracked entity. The
// stream ends when ctx is done or cancel is called. A subscriber that falls
// behind by more than the buffer loses changes; each loss is logged.
func (p *MQTT) StateChanges(ctx context.Context) (<-chan StateChange, func()) {
	ch := make(chan StateChange, changeBufferSize)

	p.subMu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subscribers, id)
			close(ch)
			p.subMu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel
}

// GetState returns the cached state of a tracked entity.
func (p *MQTT) GetState(entityID string) (State, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.states[entityID]
	return s, ok
}

// CallService publishes a service call. Data keys are merged into the
// request next to entity_id.
func (p *MQTT) CallService(ctx context.Context, call ServiceCall) error {
	if call.Domain == "" || call.Service == "" || call.EntityID == "" {
		return fmt.Errorf("%w: %s", ErrInvalidServiceCall, call)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body := make(map[string]any, len(call.Data)+1)
	for k, v := range call.Data {
		body[k] = v
	}
	body["entity_id"] = call.EntityID

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", call, err)
	}

	if err := p.messenger.Publish(p.topics.Service(call.Domain, call.Service), payload, stateQoS, false); err != nil {
		return fmt.Errorf("calling %s: %w", call, err)
	}
	return nil
}

// handleState is the MQTT handler for entity state topics.
func (p *MQTT) handleState(topic string, payload []byte) error {
	entityID, ok := p.topics.EntityIDFromState(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidState, topic)
	}

	var next *State
	if len(payload) > 0 {
		var s State
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("%s: %w", entityID, err)
		}
		s.EntityID = entityID
		next = &s
	}

	p.mu.Lock()
	if p.tracked[entityID] == 0 {
		p.mu.Unlock()
		return nil
	}
	var old *State
	if prev, ok := p.states[entityID]; ok {
		old = &prev
	}
	if next != nil {
		p.states[entityID] = *next
	} else {
		delete(p.states, entityID)
	}
	p.mu.Unlock()

	p.broadcast(StateChange{EntityID: entityID, Old: old, New: next})
	return nil
}

func (p *MQTT) broadcast(change StateChange) {
	p.subMu.RLock()
	defer p.subMu.RUnlock()

	for _, ch := range p.subscribers {
		select {
		case ch <- change:
		default:
			p.logWarn("state change dropped, subscriber is full", "entity_id", change.EntityID)
		}
	}
}

func (p *MQTT) logWarn(msg string, keysAndValues ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
