// Package codec converts between platform attribute values and KNX bus
// payloads.
//
// Every function is pure. Errors are returned, never raised:
//
//   - ErrInvalidPayload and ErrNotNumeric mark input that is silently dropped.
//   - ErrUnsupportedControllerMode and ErrUnsupportedOperationMode mark a
//     mode with no table entry, which callers report as a failure.
package codec
