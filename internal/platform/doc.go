// Package platform connects knxsync to the home-automation platform over MQTT.
//
// The platform publishes one retained JSON document per entity:
//
//	<prefix>/state/light.kitchen
//	{"state":"on","attributes":{"brightness":128,"rgb_color":[255,0,0]}}
//
// An empty retained payload means the entity was removed. Service calls are
// published, not retained, as:
//
//	<prefix>/service/light/turn_on
//	{"entity_id":"light.kitchen","brightness":128}
//
// MQTT subscribes to the state topic of every tracked entity, caches the
// last document and fans changes out to StateChanges subscribers.
package platform
