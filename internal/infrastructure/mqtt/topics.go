package mqtt

import (
	"fmt"
	"strings"
)

// serviceName is the topic segment for knxsync's own topics.
const serviceName = "knxsync"

// Topics builds the platform topic tree under a configurable prefix:
//
//	<prefix>/state/<entity_id>            retained JSON state snapshot
//	<prefix>/service/<domain>/<service>   service call request
//	<prefix>/knxsync/status               online/offline (LWT)
//	<prefix>/knxsync/health               periodic health document
//
// Example:
//
//	topics := mqtt.Topics{Prefix: "homeassistant"}
//	topics.EntityState("light.kitchen")
//	// Returns: "homeassistant/state/light.kitchen"
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	return strings.TrimRight(t.Prefix, "/")
}

// EntityState returns the state topic of an entity.
//
// Example: homeassistant/state/light.kitchen
func (t Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", t.root(), entityID)
}

// AllEntityStates returns a pattern matching every entity state topic.
//
// Pattern: homeassistant/state/+
func (t Topics) AllEntityStates() string {
	return fmt.Sprintf("%s/state/+", t.root())
}

// EntityIDFromState extracts the entity id from a state topic. It returns
// false for topics outside the state tree.
func (t Topics) EntityIDFromState(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.root()+"/state/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Service returns the topic a service call is published on.
//
// Example: homeassistant/service/light/turn_on
func (t Topics) Service(domain, service string) string {
	return fmt.Sprintf("%s/service/%s/%s", t.root(), domain, service)
}

// SystemStatus returns the availability topic carrying online/offline.
//
// Example: homeassistant/knxsync/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/%s/status", t.root(), serviceName)
}

// Health returns the topic of the periodic health document.
//
// Example: homeassistant/knxsync/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/%s/health", t.root(), serviceName)
}
