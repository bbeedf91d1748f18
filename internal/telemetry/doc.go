// Package telemetry turns dispatcher events into metrics.
//
// Metrics implements syncer.Observer and keeps Prometheus counters for
// every processed event, exposed on /metrics through Handler. InfluxSink
// forwards the same events to InfluxDB as points.
//
//	metrics := telemetry.NewMetrics(bus.Stats)
//	sink := telemetry.NewInfluxSink(influxClient)
//	dispatcher, _ := syncer.New(syncer.Options{
//	    Observer: syncer.Observers{metrics, sink},
//	    ...
//	})
//	router.Handle("/metrics", metrics.Handler())
package telemetry
