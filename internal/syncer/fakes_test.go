package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knxsync/internal/bus"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

type fakePlatform struct {
	mu       sync.Mutex
	states   map[string]platform.State
	tracked  map[string]int
	calls    []platform.ServiceCall
	changes  chan platform.StateChange
	trackErr error
	callErr  error

	// replay emits the cached state when an entity's first Track arrives,
	// as a broker does with retained documents on subscribe.
	replay bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		states:  make(map[string]platform.State),
		tracked: make(map[string]int),
		changes: make(chan platform.StateChange, 64),
	}
}

func (f *fakePlatform) Track(_ context.Context, id string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	if f.tracked[id] == 0 && f.replay {
		if s, ok := f.states[id]; ok {
			select {
			case f.changes <- platform.StateChange{EntityID: id, New: &s}:
			default:
			}
		}
	}
	f.tracked[id]++
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.tracked[id]--
			f.mu.Unlock()
		})
	}, nil
}

func (f *fakePlatform) GetState(id string) (platform.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[id]
	return s, ok
}

func (f *fakePlatform) StateChanges(context.Context) (<-chan platform.StateChange, func()) {
	return f.changes, func() {}
}

func (f *fakePlatform) CallService(_ context.Context, call platform.ServiceCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.callErr
}

func (f *fakePlatform) setState(s platform.State) {
	f.mu.Lock()
	f.states[s.EntityID] = s
	f.mu.Unlock()
}

func (f *fakePlatform) serviceCalls() []platform.ServiceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.ServiceCall(nil), f.calls...)
}

func (f *fakePlatform) trackCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked[id]
}

type sent struct {
	ga       knx.GroupAddress
	payload  knx.Payload
	response bool
}

type fakeBus struct {
	mu        sync.Mutex
	interest  map[knx.GroupAddress]int
	exposed   map[knx.GroupAddress]string
	sent      []sent
	telegrams chan knx.Telegram
	exposeErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		interest:  make(map[knx.GroupAddress]int),
		exposed:   make(map[knx.GroupAddress]string),
		telegrams: make(chan knx.Telegram, 64),
	}
}

func (f *fakeBus) RegisterInterest(_ context.Context, ga knx.GroupAddress) (func(), error) {
	f.mu.Lock()
	f.interest[ga]++
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.interest[ga]--
			if f.interest[ga] == 0 {
				delete(f.interest, ga)
			}
			f.mu.Unlock()
		})
	}, nil
}

func (f *fakeBus) Telegrams(context.Context) (<-chan knx.Telegram, func()) {
	return f.telegrams, func() {}
}

func (f *fakeBus) Send(_ context.Context, ga knx.GroupAddress, p knx.Payload, response bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ga: ga, payload: p, response: response})
	return nil
}

func (f *fakeBus) Expose(_ context.Context, entityID string, ga knx.GroupAddress, _ bus.ExposeType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exposeErr != nil {
		return f.exposeErr
	}
	f.exposed[ga] = entityID
	return nil
}

func (f *fakeBus) Unexpose(ga knx.GroupAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.exposed, ga)
	return nil
}

func (f *fakeBus) sends() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeBus) interested(ga knx.GroupAddress) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interest[ga] > 0
}

func (f *fakeBus) interestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.interest)
}

func (f *fakeBus) exposures() map[knx.GroupAddress]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[knx.GroupAddress]string, len(f.exposed))
	for k, v := range f.exposed {
		out[k] = v
	}
	return out
}

type logEntry struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level, msg})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func ga(s string) knx.GroupAddress {
	return knx.MustParseGroupAddress(s)
}

func testDeps(p *fakePlatform, b *fakeBus) deps {
	return deps{platform: p, bus: b, timeout: time.Second}
}

// setupHandler builds and sets up the handler for e.
func setupHandler(t *testing.T, e entity.Entity, p *fakePlatform, b *fakeBus) Handler {
	t.Helper()
	e.Normalize()
	h, err := newHandler(e, testDeps(p, b))
	if err != nil {
		t.Fatalf("newHandler(%s) error = %v", e.ID, err)
	}
	if err := h.SetupEvents(context.Background()); err != nil {
		t.Fatalf("SetupEvents(%s) error = %v", e.ID, err)
	}
	t.Cleanup(h.Shutdown)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
