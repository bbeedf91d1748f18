// Package syncer keeps platform entities and KNX group addresses in step.
//
// A Dispatcher owns one Handler per configured entity. The handler for an
// entity is chosen by its category:
//
//   - light: on/off, brightness and colour in both directions
//   - climate: temperatures, HVAC controller mode and preset
//   - binary_sensor: mirrored by a native bus exposure
//   - sensor: numeric state written to the bus
//
// Platform state changes are encoded and written to the entity's state
// addresses. Bus writes to command addresses are decoded and turned into
// platform service calls. Bus reads are answered from the cached state when
// the entity has answer_reads set.
//
// All handler code runs on the dispatcher's single goroutine, so handlers
// need no locking. Reload swaps the whole handler set in that goroutine.
//
// # Usage
//
//	d, err := syncer.New(syncer.Options{
//	    Platform:    platformAdapter,
//	    Bus:         busAdapter,
//	    CallTimeout: 5 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	d.SetLogger(logger)
//	if err := d.Start(ctx, entities); err != nil {
//	    return err
//	}
//	defer d.Stop()
package syncer
