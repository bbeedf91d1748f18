// Package knx talks to a KNX installation through the knxd daemon.
//
// It covers the bus side of entity synchronization: group address parsing,
// the GROUPCON wire format, datapoint type (DPT) encoding, a reconnecting
// knxd client, passive discovery of addresses seen on the bus, and health
// reporting over MQTT.
//
//	┌─────────────┐  GROUPCON   ┌──────┐
//	│   Client    │◄──────────►│ knxd │◄────► KNX bus
//	└─────────────┘  unix/tcp   └──────┘
//
// # Group Addresses
//
// Addresses are accepted in 3-level ("1/2/3"), dotted ("1.2.3"), 2-level
// ("1/515") and raw ("2563") notation and always rendered as 3-level.
//
// # Payloads
//
// A group telegram carries either a small payload of up to 6 bits inside the
// APCI octet (DPT 1) or a sequence of bytes after it (DPT 5, 8, 9, 13, 20,
// 232). The encoders in dpt.go return the correct form; callers never choose.
//
// # Thread Safety
//
// Client, AddressRecorder and HealthReporter are safe for concurrent use.
package knx
