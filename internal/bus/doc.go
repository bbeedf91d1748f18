// Package bus adapts a knx.Connector to the needs of the synchronization
// engine.
//
// knxd's group socket delivers every telegram on the bus. The adapter
// filters them by registered interest and fans them out to subscribers,
// sends writes and read responses, records traffic and serves native
// exposures: an exposed address mirrors a platform entity's on/off state
// without a handler being involved.
//
//	adapter, err := bus.New(bus.Options{Connector: client, States: platform})
//	release, _ := adapter.RegisterInterest(ctx, ga)
//	telegrams, stop := adapter.Telegrams(ctx)
package bus
