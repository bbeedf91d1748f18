package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSyncEvents = "knxsync_events"
	MeasurementBus        = "knxsync_bus"
)

// SyncEvent is one processed synchronization event.
type SyncEvent struct {
	Kind     string
	EntityID string
	Category string
	Outcome  string
	Address  string
	Duration time.Duration
	Time     time.Time
}

// WriteSyncEvent records a processed event. Tags carry the low-cardinality
// dimensions; the group address is a field.
func (c *Client) WriteSyncEvent(ev SyncEvent) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"kind":    ev.Kind,
		"outcome": ev.Outcome,
	}
	if ev.EntityID != "" {
		tags["entity_id"] = ev.EntityID
	}
	if ev.Category != "" {
		tags["category"] = ev.Category
	}

	fields := map[string]any{
		"count":       1,
		"duration_ms": float64(ev.Duration) / float64(time.Millisecond),
	}
	if ev.Address != "" {
		fields["address"] = ev.Address
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writes.WritePoint(write.NewPoint(MeasurementSyncEvents, tags, fields, ts))
}

// WriteBusStats records the knxd connection counters.
func (c *Client) WriteBusStats(connected bool, telegramsTx, telegramsRx, errorsTotal uint64) {
	if !c.IsConnected() {
		return
	}

	c.writes.WritePoint(write.NewPoint(
		MeasurementBus,
		map[string]string{},
		map[string]any{
			"connected":    connected,
			"telegrams_tx": telegramsTx,
			"telegrams_rx": telegramsRx,
			"errors":       errorsTotal,
		},
		time.Now(),
	))
}

// WritePoint writes a custom point.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writes.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
