package telemetry

import (
	"github.com/nerrad567/knxsync/internal/infrastructure/influxdb"
	"github.com/nerrad567/knxsync/internal/syncer"
)

// EventWriter is the part of *influxdb.Client the sink uses.
type EventWriter interface {
	WriteSyncEvent(ev influxdb.SyncEvent)
}

// InfluxSink forwards dispatcher events to InfluxDB. Writes are batched by
// the client, so Observe does not block.
type InfluxSink struct {
	writer EventWriter
}

// NewInfluxSink creates a sink. A nil writer yields a sink that drops events.
func NewInfluxSink(writer EventWriter) *InfluxSink {
	return &InfluxSink{writer: writer}
}

// Observe implements syncer.Observer.
func (s *InfluxSink) Observe(ev syncer.Event) {
	if s == nil || s.writer == nil {
		return
	}
	s.writer.WriteSyncEvent(influxdb.SyncEvent{
		Kind:     string(ev.Kind),
		EntityID: ev.EntityID,
		Category: string(ev.Category),
		Outcome:  string(ev.Outcome),
		Address:  ev.Address,
		Duration: ev.Duration,
		Time:     ev.Timestamp,
	})
}
