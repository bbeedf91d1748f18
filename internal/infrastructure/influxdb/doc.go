// Package influxdb writes synchronization telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every processed sync
// event becomes a point in the knxsync_events measurement and the health
// loop adds knxd counters to knxsync_bus.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteSyncEvent(influxdb.SyncEvent{Kind: "telegram", Outcome: "handled"})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; write failures are
// delivered to the SetOnError callback.
package influxdb
