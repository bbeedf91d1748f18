package bus

import (
	"context"
	"fmt"

	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

// ExposeType selects how an exposure encodes the entity state.
type ExposeType string

// ExposeBinary mirrors "on"/"off" as DPT 1.
const ExposeBinary ExposeType = "binary"

// exposure mirrors one entity onto one group address.
type exposure struct {
	entityID string
	ga       knx.GroupAddress
	kind     ExposeType
	release  func()

	// last is the value most recently written; valid when sent is set.
	last bool
	sent bool
}

func (e *exposure) encode(s platform.State) (knx.Payload, bool) {
	if s.Unavailable() {
		return knx.Payload{}, false
	}
	return knx.EncodeDPT1(s.Value == "on"), true
}

// Expose mirrors an entity's state onto ga. Every state change is written
// to the bus and reads on ga are answered from the current state.
// Unavailable states are neither written nor used to answer reads.
func (a *Adapter) Expose(ctx context.Context, entityID string, ga knx.GroupAddress, kind ExposeType) error {
	if a.states == nil {
		return ErrNoStateSource
	}
	if kind != ExposeBinary {
		return fmt.Errorf("%w: %q", ErrUnsupportedExposure, kind)
	}
	if a.closed() {
		return ErrClosed
	}

	a.expMu.Lock()
	if _, ok := a.exposures[ga]; ok {
		a.expMu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExposed, ga)
	}
	// Reserve the address while tracking.
	exp := &exposure{entityID: entityID, ga: ga, kind: kind, release: func() {}}
	a.exposures[ga] = exp
	a.ensureWatcher()
	a.expMu.Unlock()

	release, err := a.states.Track(ctx, entityID)
	if err != nil {
		a.expMu.Lock()
		delete(a.exposures, ga)
		a.expMu.Unlock()
		return fmt.Errorf("exposing %s on %s: %w", entityID, ga, err)
	}

	a.expMu.Lock()
	exp.release = release
	a.expMu.Unlock()

	a.logDebug("exposure added", "entity_id", entityID, "ga", ga.String(), "type", string(kind))
	return nil
}

// Unexpose removes the exposure on ga.
func (a *Adapter) Unexpose(ga knx.GroupAddress) error {
	a.expMu.Lock()
	exp, ok := a.exposures[ga]
	if ok {
		delete(a.exposures, ga)
	}
	a.expMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExposed, ga)
	}
	exp.release()
	a.logDebug("exposure removed", "entity_id", exp.entityID, "ga", ga.String())
	return nil
}

// Exposed reports whether ga has an exposure.
func (a *Adapter) Exposed(ga knx.GroupAddress) bool {
	a.expMu.RLock()
	defer a.expMu.RUnlock()
	_, ok := a.exposures[ga]
	return ok
}

// ensureWatcher starts the state watcher once. Caller holds expMu.
func (a *Adapter) ensureWatcher() {
	if a.watcherRun {
		return
	}
	a.watcherRun = true

	changes, stop := a.states.StateChanges(a.ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				a.writeExposures(change)
			}
		}
	}()
}

// writeExposures sends the new state to every exposure of the entity
// whose encoded value changed.
func (a *Adapter) writeExposures(change platform.StateChange) {
	if change.New == nil {
		return
	}

	type pending struct {
		exp     *exposure
		payload knx.Payload
		on      bool
	}
	var sends []pending

	a.expMu.Lock()
	for _, exp := range a.exposures {
		if exp.entityID != change.EntityID {
			continue
		}
		payload, ok := exp.encode(*change.New)
		if !ok {
			continue
		}
		on := payload.Data[0] != 0
		if exp.sent && exp.last == on {
			continue
		}
		exp.last, exp.sent = on, true
		sends = append(sends, pending{exp, payload, on})
	}
	a.expMu.Unlock()

	for _, s := range sends {
		if err := a.sendWithTimeout(s.exp.ga, s.payload, false); err != nil {
			a.logError("exposure write failed", err, "entity_id", s.exp.entityID)
		}
	}
}

// answerExposure responds to a read on an exposed address.
func (a *Adapter) answerExposure(ga knx.GroupAddress) {
	a.expMu.RLock()
	exp, ok := a.exposures[ga]
	var entityID string
	if ok {
		entityID = exp.entityID
	}
	a.expMu.RUnlock()
	if !ok {
		return
	}

	state, ok := a.states.GetState(entityID)
	if !ok {
		return
	}
	payload, ok := exp.encode(state)
	if !ok {
		return
	}

	if err := a.sendWithTimeout(ga, payload, true); err != nil {
		a.logError("exposure read response failed", err, "entity_id", entityID)
	}
}
