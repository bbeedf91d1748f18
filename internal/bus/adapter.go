package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

const (
	defaultSendTimeout   = 5 * time.Second
	subscriberBufferSize = 256
)

// StateSource supplies platform state for exposures.
type StateSource interface {
	Track(ctx context.Context, entityID string) (release func(), err error)
	GetState(entityID string) (platform.State, bool)
	StateChanges(ctx context.Context) (<-chan platform.StateChange, func())
}

// Recorder receives every inbound telegram.
type Recorder interface {
	Record(t knx.Telegram)
}

// Logger is the logging interface used by the adapter.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures an Adapter.
type Options struct {
	// Connector is the knxd connection. Required.
	Connector knx.Connector

	// States enables Expose. Optional.
	States StateSource

	// Recorder sees every inbound telegram. Optional.
	Recorder Recorder

	// SendTimeout bounds sends made by exposures. Default: 5s.
	SendTimeout time.Duration
}

type subscriber struct {
	ch chan knx.Telegram
	// all bypasses the interest filter.
	all bool
}

// Adapter is the bus side of the synchronization engine.
//
// Thread Safety: All methods are safe for concurrent use.
type Adapter struct {
	conn     knx.Connector
	states   StateSource
	recorder Recorder
	timeout  time.Duration

	interest   map[knx.GroupAddress]int
	interestMu sync.RWMutex

	subscribers map[int]subscriber
	nextSubID   int
	subMu       sync.RWMutex

	exposures  map[knx.GroupAddress]*exposure
	expMu      sync.RWMutex
	watcherRun bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates an adapter and installs it as the connector's telegram callback.
func New(opts Options) (*Adapter, error) {
	if opts.Connector == nil {
		return nil, ErrNoConnector
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		conn:        opts.Connector,
		states:      opts.States,
		recorder:    opts.Recorder,
		timeout:     opts.SendTimeout,
		interest:    make(map[knx.GroupAddress]int),
		subscribers: make(map[int]subscriber),
		exposures:   make(map[knx.GroupAddress]*exposure),
		ctx:         ctx,
		cancel:      cancel,
	}
	a.conn.SetOnTelegram(a.handleTelegram)
	return a, nil
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.loggerMu.Lock()
	a.logger = logger
	a.loggerMu.Unlock()
}

// Close removes every exposure, ends all telegram streams and detaches from
// the connector. The connector itself stays open. Safe to call multiple times.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		a.conn.SetOnTelegram(nil)
		a.cancel()
		a.wg.Wait()

		a.expMu.Lock()
		for ga, exp := range a.exposures {
			exp.release()
			delete(a.exposures, ga)
		}
		a.expMu.Unlock()

		a.subMu.Lock()
		for id, sub := range a.subscribers {
			close(sub.ch)
			delete(a.subscribers, id)
		}
		a.subMu.Unlock()
	})
}

func (a *Adapter) closed() bool {
	return a.ctx.Err() != nil
}

// RegisterInterest makes telegrams to ga visible on Telegrams streams.
// Interest is reference counted; release undoes one registration.
func (a *Adapter) RegisterInterest(ctx context.Context, ga knx.GroupAddress) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.closed() {
		return nil, ErrClosed
	}

	a.interestMu.Lock()
	a.interest[ga]++
	a.interestMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.interestMu.Lock()
			a.interest[ga]--
			if a.interest[ga] <= 0 {
				delete(a.interest, ga)
			}
			a.interestMu.Unlock()
		})
	}, nil
}

// Interested reports whether any registration for ga is active.
func (a *Adapter) Interested(ga knx.GroupAddress) bool {
	a.interestMu.RLock()
	defer a.interestMu.RUnlock()
	return a.interest[ga] > 0
}

// Telegrams streams inbound telegrams for registered addresses. The stream
// ends when ctx is done, cancel is called or the adapter is closed.
func (a *Adapter) Telegrams(ctx context.Context) (<-chan knx.Telegram, func()) {
	return a.subscribe(ctx, false)
}

// Monitor streams every inbound telegram regardless of interest.
func (a *Adapter) Monitor(ctx context.Context) (<-chan knx.Telegram, func()) {
	return a.subscribe(ctx, true)
}

func (a *Adapter) subscribe(ctx context.Context, all bool) (<-chan knx.Telegram, func()) {
	ch := make(chan knx.Telegram, subscriberBufferSize)

	a.subMu.Lock()
	if a.closed() {
		a.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = subscriber{ch: ch, all: all}
	a.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.subMu.Lock()
			if _, ok := a.subscribers[id]; ok {
				delete(a.subscribers, id)
				close(ch)
			}
			a.subMu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-a.ctx.Done():
		}
		cancel()
	}()

	return ch, cancel
}

// Send writes p to ga, as a GroupValue_Response when response is set.
func (a *Adapter) Send(ctx context.Context, ga knx.GroupAddress, p knx.Payload, response bool) error {
	if a.closed() {
		return ErrClosed
	}
	if response {
		return a.conn.SendResponse(ctx, ga, p)
	}
	return a.conn.Send(ctx, ga, p)
}

// IsConnected reports the knxd connection state.
func (a *Adapter) IsConnected() bool {
	return a.conn.IsConnected()
}

// Stats returns the knxd connection statistics.
func (a *Adapter) Stats() knx.Stats {
	return a.conn.Stats()
}

// handleTelegram is the connector callback. It runs on the connector's
// callback workers.
func (a *Adapter) handleTelegram(t knx.Telegram) {
	if a.closed() {
		return
	}

	if a.recorder != nil {
		a.recorder.Record(t)
	}

	if t.IsRead() {
		a.answerExposure(t.Destination)
	}

	interested := a.Interested(t.Destination)

	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for _, sub := range a.subscribers {
		if !sub.all && !interested {
			continue
		}
		select {
		case sub.ch <- t:
		default:
			a.logWarn("telegram dropped, subscriber is full", "ga", t.Destination.String())
		}
	}
}

func (a *Adapter) sendWithTimeout(ga knx.GroupAddress, p knx.Payload, response bool) error {
	ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
	defer cancel()
	if err := a.Send(ctx, ga, p, response); err != nil {
		return fmt.Errorf("sending to %s: %w", ga, err)
	}
	return nil
}

func (a *Adapter) getLogger() Logger {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	return a.logger
}

func (a *Adapter) logDebug(msg string, keysAndValues ...any) {
	if logger := a.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (a *Adapter) logWarn(msg string, keysAndValues ...any) {
	if logger := a.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (a *Adapter) logError(msg string, err error, keysAndValues ...any) {
	if logger := a.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
