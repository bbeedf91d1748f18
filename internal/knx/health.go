package knx

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// HealthStatus is the reported service state.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// HealthMessage is the retained JSON document published on the health topic.
type HealthMessage struct {
	Service       string       `json:"service"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_s,omitempty"`
	Entities      int          `json:"entities"`
	Bus           *BusHealth   `json:"bus,omitempty"`
}

// BusHealth summarises the knxd connection.
type BusHealth struct {
	Address     string `json:"address"`
	Connected   bool   `json:"connected"`
	TelegramsTx uint64 `json:"telegrams_tx"`
	TelegramsRx uint64 `json:"telegrams_rx"`
	Errors      uint64 `json:"errors"`
	Reconnects  uint64 `json:"reconnects"`
}

// HealthPublisher publishes health documents, typically an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	// Service names the process in health documents.
	Service string

	Version string

	// Topic receives the retained health document.
	Topic string

	// Interval between reports. Default: 30s.
	Interval time.Duration

	Publisher HealthPublisher
	Bus       Connector

	// BusAddress is the knxd connection URL, reported verbatim.
	BusAddress string
}

// HealthReporter publishes a retained health document on start, every
// interval and once more with status "stopping" on Stop.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	entities atomic.Int64
	logger   atomic.Pointer[Logger]

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHealthReporter creates a reporter. Nothing is published before Start.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{cfg: cfg, started: time.Now(), done: make(chan struct{})}
}

// Start reports until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Go(func() {
		tick := time.NewTicker(h.cfg.Interval)
		defer tick.Stop()
		for {
			h.report("health")
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-tick.C:
			}
		}
	})
}

// Stop ends the loop and publishes the stopping document. Only the first
// call has an effect.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publish(HealthStopping, ""); err != nil {
			h.logError("stopping health", err)
		}
	})
}

// SetEntityCount sets the entity count reported from the next document on.
func (h *HealthReporter) SetEntityCount(count int) {
	h.entities.Store(int64(count))
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.logger.Store(&logger)
}

// PublishNow publishes the current status out of cycle.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Status())
}

// Status is degraded, with a reason, while either transport is down.
func (h *HealthReporter) Status() (HealthStatus, string) {
	switch {
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	case h.cfg.Bus == nil || !h.cfg.Bus.IsConnected():
		return HealthDegraded, "knxd disconnected"
	default:
		return HealthHealthy, ""
	}
}

func (h *HealthReporter) report(what string) {
	if err := h.PublishNow(); err != nil {
		h.logError(what, err)
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Service:       h.cfg.Service,
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.started) / time.Second),
		Entities:      int(h.entities.Load()),
	}
	if h.cfg.Bus == nil {
		return msg
	}
	st := h.cfg.Bus.Stats()
	msg.Bus = &BusHealth{
		Address:     h.cfg.BusAddress,
		Connected:   st.Connected,
		TelegramsTx: st.TelegramsTx,
		TelegramsRx: st.TelegramsRx,
		Errors:      st.ErrorsTotal,
		Reconnects:  st.ReconnectsTotal,
	}
	return msg
}

// publish sends msg retained at QoS 1. Without a publisher it is a no-op.
func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}

func (h *HealthReporter) logError(what string, err error) {
	if l := h.logger.Load(); l != nil && *l != nil {
		(*l).Error("failed to publish "+what, "error", err)
	}
}
