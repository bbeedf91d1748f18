package knx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	writeTimeout = 5 * time.Second

	deliveryQueueSize = 100
)

// ClientConfig holds knxd connection settings.
type ClientConfig struct {
	// Connection is the knxd URL: "unix:///run/knxd" or "tcp://localhost:6720".
	Connection string

	// ConnectTimeout bounds dial plus handshake. Default: 10s.
	ConnectTimeout time.Duration

	// ReadTimeout is the idle read deadline; a timeout is not an error. Default: 30s.
	ReadTimeout time.Duration

	// ReconnectInterval is the first reconnection delay. Default: 5s.
	ReconnectInterval time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
}

// Stats holds knxd client counters.
type Stats struct {
	TelegramsTx      uint64    `json:"telegrams_tx"`
	TelegramsRx      uint64    `json:"telegrams_rx"`
	TelegramsDropped uint64    `json:"telegrams_dropped"`
	ErrorsTotal      uint64    `json:"errors_total"`
	ReconnectsTotal  uint64    `json:"reconnects_total"`
	LastActivity     time.Time `json:"last_activity"`
	Connected        bool      `json:"connected"`
	Reconnecting     bool      `json:"reconnecting"`
}

// Logger is the logging interface used throughout the package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is the bus connection used by the rest of the application.
type Connector interface {
	Send(ctx context.Context, ga GroupAddress, p Payload) error
	SendResponse(ctx context.Context, ga GroupAddress, p Payload) error
	SendRead(ctx context.Context, ga GroupAddress) error
	SetOnTelegram(callback func(Telegram))
	IsConnected() bool
	Stats() Stats
	Close() error
}

var _ Connector = (*Client)(nil)

// Client is a knxd GROUPCON client.
//
// One goroutine owns the socket's read side. When the socket fails it
// redials with a delay starting at ReconnectInterval and growing by half
// each attempt, up to two minutes, until Close. Received telegrams go
// through a bounded queue to one delivery goroutine, so the callback sees
// them in bus order and never concurrently. When it falls behind,
// telegrams are dropped and counted.
type Client struct {
	cfg              ClientConfig
	network, address string

	// mu guards sock and serialises writes to it.
	mu   sync.Mutex
	sock *groupSocket

	connected    atomic.Bool
	reconnecting atomic.Bool

	onTelegram atomic.Pointer[func(Telegram)]
	deliveries chan Telegram

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger atomic.Pointer[Logger]

	telegramsTx      atomic.Uint64
	telegramsRx      atomic.Uint64
	telegramsDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	reconnectsTotal  atomic.Uint64
	lastActivity     atomic.Int64
}

// Connect dials knxd, opens a group socket and starts receiving.
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	cfg.applyDefaults()

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	sock, err := dialGroupSocket(dialCtx, network, address, cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		cfg:        cfg,
		network:    network,
		address:    address,
		sock:       sock,
		deliveries: make(chan Telegram, deliveryQueueSize),
		done:       make(chan struct{}),
	}
	c.connected.Store(true)
	c.touch()

	c.wg.Go(c.deliver)
	c.wg.Go(func() { c.run(sock) })

	return c, nil
}

// run receives on sock until it fails, then replaces it, until Close.
func (c *Client) run(sock *groupSocket) {
	for sock != nil {
		err := c.receive(sock)
		if c.closed() {
			return
		}

		c.connected.Store(false)
		c.errorsTotal.Add(1)
		c.logError("knxd connection lost", err)

		c.mu.Lock()
		if c.sock == sock {
			c.sock = nil
		}
		c.mu.Unlock()
		sock.close(false)

		sock = c.redial()
	}
}

// receive dispatches group packets until a read fails for a reason other
// than the idle timeout.
func (c *Client) receive(sock *groupSocket) error {
	for {
		msgType, payload, err := sock.next()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && !c.closed() {
				continue
			}
			return err
		}
		if msgType == EIBGroupPacket {
			c.handleGroupPacket(payload)
		}
	}
}

// redial retries until a new socket is up, returning nil after Close.
func (c *Client) redial() *groupSocket {
	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	delay := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		c.logInfo("reconnecting to knxd", "attempt", attempt)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		sock, err := dialGroupSocket(ctx, c.network, c.address, c.cfg.ReadTimeout)
		cancel()

		if err == nil {
			c.mu.Lock()
			if c.closed() {
				c.mu.Unlock()
				sock.close(true)
				return nil
			}
			c.sock = sock
			c.connected.Store(true)
			c.mu.Unlock()

			c.reconnectsTotal.Add(1)
			c.touch()
			c.logInfo("reconnected to knxd", "attempt", attempt, "total_reconnects", c.reconnectsTotal.Load())
			return sock
		}

		c.errorsTotal.Add(1)
		c.logError("knxd reconnect failed", err, "retry_in", delay.String())

		t := time.NewTimer(delay)
		select {
		case <-c.done:
			t.Stop()
			return nil
		case <-t.C:
		}
		delay = min(delay+delay/2, maxReconnectInterval)
	}
}

func (c *Client) handleGroupPacket(payload []byte) {
	t, err := ParseTelegram(payload)
	if err != nil {
		c.errorsTotal.Add(1)
		c.logError("discarding malformed group packet", err)
		return
	}
	c.telegramsRx.Add(1)
	c.touch()

	if c.onTelegram.Load() == nil {
		return
	}
	select {
	case c.deliveries <- t:
	default:
		c.telegramsDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logError("telegram delivery queue full, dropping", nil, "destination", t.Destination.String())
	}
}

func (c *Client) deliver() {
	for {
		select {
		case <-c.done:
			return
		case t := <-c.deliveries:
			c.invoke(t)
		}
	}
}

func (c *Client) invoke(t Telegram) {
	fn := c.onTelegram.Load()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logError("telegram callback panicked", fmt.Errorf("%v", r))
		}
	}()
	(*fn)(t)
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().Unix())
}

// Close says goodbye to knxd, stops every goroutine and waits for them.
// It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		c.connected.Store(false)
		if c.sock != nil {
			c.sock.close(true)
			c.sock = nil
		}
		c.mu.Unlock()

		c.wg.Wait()
		c.logInfo("knxd connection closed")
	})
	return nil
}

// Send sends a GroupValue_Write.
func (c *Client) Send(ctx context.Context, ga GroupAddress, p Payload) error {
	return c.send(ctx, NewWriteTelegram(ga, p))
}

// SendResponse sends a GroupValue_Response.
func (c *Client) SendResponse(ctx context.Context, ga GroupAddress, p Payload) error {
	return c.send(ctx, NewResponseTelegram(ga, p))
}

// SendRead sends a GroupValue_Read.
func (c *Client) SendRead(ctx context.Context, ga GroupAddress) error {
	return c.send(ctx, NewReadTelegram(ga))
}

func (c *Client) send(ctx context.Context, t Telegram) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTelegramFailed, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	if err := c.sock.write(deadlineFor(ctx, writeTimeout), EIBGroupPacket, t.Encode()); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrTelegramFailed, err)
	}

	c.telegramsTx.Add(1)
	c.touch()
	return nil
}

// SetOnTelegram sets the callback for received telegrams. Panics in the
// callback are recovered and logged.
func (c *Client) SetOnTelegram(callback func(Telegram)) {
	if callback == nil {
		c.onTelegram.Store(nil)
		return
	}
	c.onTelegram.Store(&callback)
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger Logger) {
	c.logger.Store(&logger)
}

// IsConnected reports whether the group socket is open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		TelegramsTx:      c.telegramsTx.Load(),
		TelegramsRx:      c.telegramsRx.Load(),
		TelegramsDropped: c.telegramsDropped.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
		ReconnectsTotal:  c.reconnectsTotal.Load(),
		LastActivity:     time.Unix(c.lastActivity.Load(), 0),
		Connected:        c.IsConnected(),
		Reconnecting:     c.reconnecting.Load(),
	}
}

// HealthCheck returns ErrNotConnected while the socket is down.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) log() Logger {
	if l := c.logger.Load(); l != nil {
		return *l
	}
	return nil
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.log(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error, keysAndValues ...any) {
	if l := c.log(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
