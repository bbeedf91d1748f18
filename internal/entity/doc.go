// Package entity holds the configuration model of synced entities and its
// SQLite store.
//
// An entity is identified by "<category>.<name>". The category selects the
// handler (light, climate, binary_sensor, sensor) and the address fields
// that are valid for it.
package entity
