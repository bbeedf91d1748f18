package syncer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/knxsync/internal/codec"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

const defaultCallTimeout = 5 * time.Second

// Status is the dispatcher lifecycle state.
type Status string

const (
	StatusUnloaded  Status = "unloaded"
	StatusLoading   Status = "loading"
	StatusActive    Status = "active"
	StatusUnloading Status = "unloading"
)

// Options configures a Dispatcher.
type Options struct {
	// Platform supplies state and accepts service calls. Required.
	Platform Platform

	// Bus carries telegrams. Required.
	Bus Bus

	// CallTimeout bounds every send and service call. Default: 5s.
	CallTimeout time.Duration

	// Observer sees every processed event. Optional.
	Observer Observer
}

type reloadRequest struct {
	set  entity.Set
	done chan struct{}
}

// Dispatcher owns the handlers and routes events to them.
//
// State changes, telegrams and reload requests are consumed by one
// goroutine, and each is processed to completion before the next.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Dispatcher struct {
	platform Platform
	bus      Bus
	timeout  time.Duration
	observer Observer

	handlers  map[string]Handler
	byAddress map[knx.GroupAddress][]Handler
	mu        sync.RWMutex

	status   Status
	started  bool
	statusMu sync.RWMutex

	reloads  chan reloadRequest
	done     chan struct{}
	exited   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a dispatcher in the Unloaded state.
func New(opts Options) (*Dispatcher, error) {
	if opts.Platform == nil {
		return nil, ErrNoPlatform
	}
	if opts.Bus == nil {
		return nil, ErrNoBus
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}

	return &Dispatcher{
		platform:  opts.Platform,
		bus:       opts.Bus,
		timeout:   opts.CallTimeout,
		observer:  opts.Observer,
		handlers:  make(map[string]Handler),
		byAddress: make(map[knx.GroupAddress][]Handler),
		status:    StatusUnloaded,
		reloads:   make(chan reloadRequest),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}, nil
}

// SetLogger sets the logger for the dispatcher and its handlers.
// Call before Start.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// Start loads handlers for set and begins dispatching. It returns once
// every handler's SetupEvents has run. Entities that cannot be synced are
// logged and left out.
//
// The global streams are opened before setup so the state documents that
// tracking triggers are buffered rather than lost; they are consumed once
// setup is complete.
func (d *Dispatcher) Start(ctx context.Context, set entity.Set) error {
	d.statusMu.Lock()
	if d.started {
		d.statusMu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.status = StatusLoading
	d.statusMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	changes, stopChanges := d.platform.StateChanges(loopCtx)
	telegrams, stopTelegrams := d.bus.Telegrams(loopCtx)

	d.load(loopCtx, set)
	d.setStatus(StatusActive)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(d.exited)
		defer cancel()

		d.run(loopCtx, changes, telegrams)

		d.setStatus(StatusUnloading)
		d.unload()
		stopChanges()
		stopTelegrams()
		d.setStatus(StatusUnloaded)
		d.logInfo("dispatcher stopped")
	}()
	return nil
}

// Stop unloads every handler and releases the global streams.
// Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}

// Reload replaces the handler set: every handler is shut down, then
// handlers for set are built and set up. Entities kept by the new set are
// not re-sent to the bus. It returns when the new set is active.
func (d *Dispatcher) Reload(ctx context.Context, set entity.Set) error {
	if d.Status() == StatusUnloaded {
		return ErrNotRunning
	}

	req := reloadRequest{set: set, done: make(chan struct{})}
	select {
	case d.reloads <- req:
	case <-d.exited:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-d.exited:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the lifecycle state.
func (d *Dispatcher) Status() Status {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status
}

// Entities returns the ids of the loaded handlers, sorted.
func (d *Dispatcher) Entities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.handlers))
	for id := range d.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the number of loaded handlers.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

func (d *Dispatcher) setStatus(s Status) {
	d.statusMu.Lock()
	d.status = s
	d.statusMu.Unlock()
}

func (d *Dispatcher) run(ctx context.Context, changes <-chan platform.StateChange, telegrams <-chan knx.Telegram) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			d.dispatchStateChange(ctx, change)
		case t, ok := <-telegrams:
			if !ok {
				return
			}
			d.dispatchTelegram(ctx, t)
		case req := <-d.reloads:
			d.reload(ctx, req.set)
			close(req.done)
		}
	}
}

// reload swaps the handler set. Entities present before and after stay
// tracked throughout, so the platform neither drops their cached state nor
// replays it, and nothing is re-sent to the bus.
func (d *Dispatcher) reload(ctx context.Context, set entity.Set) {
	holds := d.holdTracking(ctx, set)

	d.setStatus(StatusUnloading)
	d.unload()
	d.setStatus(StatusLoading)
	d.load(ctx, set)
	d.setStatus(StatusActive)

	for _, release := range holds {
		release()
	}
}

// holdTracking takes an extra Track on every loaded entity that is also in
// set. The caller releases the holds once the new handlers are set up.
func (d *Dispatcher) holdTracking(ctx context.Context, set entity.Set) []func() {
	d.mu.RLock()
	var keep []string
	for id := range d.handlers {
		if _, ok := set[id]; ok {
			keep = append(keep, id)
		}
	}
	d.mu.RUnlock()
	slices.Sort(keep)

	holds := make([]func(), 0, len(keep))
	for _, id := range keep {
		release, err := d.platform.Track(ctx, id)
		if err != nil {
			d.logDebug("tracking not held across reload", "entity_id", id, "error", err)
			continue
		}
		holds = append(holds, release)
	}
	return holds
}

// load builds and sets up one handler per entity.
func (d *Dispatcher) load(ctx context.Context, set entity.Set) {
	started := time.Now()
	dep := deps{
		platform: d.platform,
		bus:      d.bus,
		timeout:  d.timeout,
		logger:   d.getLogger(),
	}

	handlers := make(map[string]Handler, len(set))
	byAddress := make(map[knx.GroupAddress][]Handler)

	for _, id := range set.IDs() {
		e := set[id]
		if e.ID == "" {
			e.ID = id
		}

		h, err := newHandler(e, dep)
		if err != nil {
			d.logError("entity not synced", err, "entity_id", id)
			continue
		}
		if err := h.SetupEvents(ctx); err != nil {
			h.Shutdown()
			d.logError("entity setup failed", err, "entity_id", id)
			continue
		}

		handlers[id] = h
		for _, ga := range h.Addresses() {
			byAddress[ga] = append(byAddress[ga], h)
		}
		d.logDebug("entity synced", "entity_id", id, "category", string(h.Category()))
	}

	d.mu.Lock()
	d.handlers = handlers
	d.byAddress = byAddress
	d.mu.Unlock()

	d.logInfo("entities loaded", "synced", len(handlers), "configured", len(set))
	d.observe(Event{
		Kind:     EventReload,
		Outcome:  OutcomeHandled,
		Entities: len(handlers),
		Duration: time.Since(started),
	})
}

// unload shuts every handler down in id order and clears the maps.
func (d *Dispatcher) unload() {
	d.mu.Lock()
	handlers := d.handlers
	d.handlers = make(map[string]Handler)
	d.byAddress = make(map[knx.GroupAddress][]Handler)
	d.mu.Unlock()

	ids := make([]string, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		handlers[id].Shutdown()
	}
}

func (d *Dispatcher) dispatchStateChange(ctx context.Context, change platform.StateChange) {
	d.mu.RLock()
	h, ok := d.handlers[change.EntityID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	started := time.Now()
	err := h.OnStateChanged(ctx, change.New)
	d.report(err, "state change not synced", "entity_id", change.EntityID)

	ev := Event{
		Kind:     EventStateChange,
		EntityID: change.EntityID,
		Category: h.Category(),
		Duration: time.Since(started),
	}
	if change.New != nil {
		ev.State = change.New.Value
	}
	d.observe(withOutcome(ev, err))
}

// dispatchTelegram routes a telegram to every handler bound to its
// destination. Responses carry no request and are ignored.
func (d *Dispatcher) dispatchTelegram(ctx context.Context, t knx.Telegram) {
	if t.IsResponse() {
		return
	}

	d.mu.RLock()
	handlers := slices.Clone(d.byAddress[t.Destination])
	d.mu.RUnlock()

	for _, h := range handlers {
		started := time.Now()
		err := h.OnTelegram(ctx, t)
		d.report(err, "telegram not synced",
			"entity_id", h.EntityID(), "ga", t.Destination.String(), "type", t.Type())

		d.observe(withOutcome(Event{
			Kind:     EventTelegram,
			EntityID: h.EntityID(),
			Category: h.Category(),
			Address:  t.Destination.String(),
			Telegram: t.Type(),
			Duration: time.Since(started),
		}, err))
	}
}

// ignorable reports errors caused by payloads or values that have no
// valid encoding. They are dropped with a debug log. An error wrapping
// several is ignorable only when every one of them is.
func ignorable(err error) bool {
	switch e := err.(type) {
	case nil:
		return false
	case interface{ Unwrap() []error }:
		errs := e.Unwrap()
		for _, sub := range errs {
			if !ignorable(sub) {
				return false
			}
		}
		return len(errs) > 0
	}
	switch err {
	case codec.ErrInvalidPayload, codec.ErrNotNumeric, knx.ErrDecodingFailed:
		return true
	}
	return ignorable(errors.Unwrap(err))
}

func withOutcome(ev Event, err error) Event {
	ev.Timestamp = time.Now().UTC()
	switch {
	case err == nil:
		ev.Outcome = OutcomeHandled
	case ignorable(err):
		ev.Outcome = OutcomeIgnored
		ev.Error = err.Error()
	default:
		ev.Outcome = OutcomeFailed
		ev.Error = err.Error()
	}
	return ev
}

// report logs a handler error once, at debug level when it is ignorable.
func (d *Dispatcher) report(err error, msg string, keysAndValues ...any) {
	switch {
	case err == nil:
	case ignorable(err):
		d.logDebug(msg, append(keysAndValues, "reason", err.Error())...)
	default:
		d.logError(msg, err, keysAndValues...)
	}
}

func (d *Dispatcher) observe(ev Event) {
	if d.observer == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	d.observer.Observe(ev)
}

func (d *Dispatcher) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logInfo(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logError(msg string, err error, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
