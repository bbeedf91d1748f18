package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

// record is the state every handler shares: identity, the answer_reads
// flag, the last known platform state and the subscriptions to release.
type record struct {
	id          string
	category    entity.Category
	answerReads bool
	deps        deps

	// state is the last snapshot received, replaced wholesale. nil until
	// the platform reports the entity.
	state *platform.State

	addresses []knx.GroupAddress
	releases  []func()
}

func newRecord(e entity.Entity, d deps) record {
	return record{
		id:          e.ID,
		category:    e.Category(),
		answerReads: e.AnswerReads,
		deps:        d,
	}
}

func (r *record) EntityID() string { return r.id }

func (r *record) Category() entity.Category { return r.category }

func (r *record) Addresses() []knx.GroupAddress { return r.addresses }

// setup tracks the entity, seeds the cache and registers interest in the
// command addresses, plus the state addresses when reads are answered.
func (r *record) setup(ctx context.Context, command, state []knx.GroupAddress) error {
	release, err := r.deps.platform.Track(ctx, r.id)
	if err != nil {
		return fmt.Errorf("tracking %s: %w", r.id, err)
	}
	r.releases = append(r.releases, release)

	if s, ok := r.deps.platform.GetState(r.id); ok {
		r.setState(&s)
	}

	register := slices.Clone(command)
	if r.answerReads {
		register = append(register, state...)
	}
	for _, ga := range register {
		if slices.Contains(r.addresses, ga) {
			continue
		}
		release, err := r.deps.bus.RegisterInterest(ctx, ga)
		if err != nil {
			r.release()
			return fmt.Errorf("registering %s for %s: %w", ga, r.id, err)
		}
		r.releases = append(r.releases, release)
		r.addresses = append(r.addresses, ga)
	}
	return nil
}

// release undoes setup in reverse order.
func (r *record) release() {
	for i := len(r.releases) - 1; i >= 0; i-- {
		r.releases[i]()
	}
	r.releases = nil
	r.addresses = nil
}

func (r *record) setState(s *platform.State) {
	if s == nil {
		r.state = nil
		return
	}
	snapshot := *s
	r.state = &snapshot
}

// canAnswer reports whether a read may be answered.
func (r *record) canAnswer() bool {
	return r.answerReads && r.state != nil
}

func (r *record) send(ctx context.Context, ga knx.GroupAddress, p knx.Payload, response bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.deps.timeout)
	defer cancel()
	if err := r.deps.bus.Send(ctx, ga, p, response); err != nil {
		return fmt.Errorf("sending %s to %s: %w", r.id, ga, err)
	}
	return nil
}

// sendAll writes p to every address. A failed send does not stop the rest.
func (r *record) sendAll(ctx context.Context, gas []knx.GroupAddress, p knx.Payload) error {
	var errs []error
	for _, ga := range gas {
		if err := r.send(ctx, ga, p, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// respond answers a read on ga.
func (r *record) respond(ctx context.Context, ga knx.GroupAddress, p knx.Payload) error {
	return r.send(ctx, ga, p, true)
}

func (r *record) call(ctx context.Context, service string, data map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, r.deps.timeout)
	defer cancel()
	return r.deps.platform.CallService(ctx, platform.ServiceCall{
		Domain:   string(r.category),
		Service:  service,
		EntityID: r.id,
		Data:     data,
	})
}

func (r *record) logDebug(msg string, keysAndValues ...any) {
	if r.deps.logger != nil {
		r.deps.logger.Debug(msg, append([]any{"entity_id", r.id}, keysAndValues...)...)
	}
}

func (r *record) logWarn(msg string, keysAndValues ...any) {
	if r.deps.logger != nil {
		r.deps.logger.Warn(msg, append([]any{"entity_id", r.id}, keysAndValues...)...)
	}
}
