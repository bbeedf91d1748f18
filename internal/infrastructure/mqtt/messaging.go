package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

func checkRequest(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// wait blocks for a paho token's ack, bounded by ackTimeout.
func wait(tok pahomqtt.Token, op string) error {
	if !tok.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: %s not acknowledged within %v", ErrRejected, op, ackTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRejected, op, err)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker ack (QoS > 0).
// Payloads are limited to 1 MiB.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrRejected, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.paho.Publish(topic, qos, retained, payload), "publish "+topic)
}

// Subscribe routes messages matching topic (wildcards allowed) to handler.
// A second Subscribe on the same topic replaces the handler. The route
// survives reconnects until Unsubscribe.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrRejected, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routesMu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.routesMu.Unlock()

	if err := wait(c.paho.Subscribe(topic, qos, c.deliver(handler)), "subscribe "+topic); err != nil {
		c.routesMu.Lock()
		delete(c.routes, topic)
		c.routesMu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the route for topic. Messages already in flight may
// still reach the old handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routesMu.Lock()
	delete(c.routes, topic)
	c.routesMu.Unlock()

	return wait(c.paho.Unsubscribe(topic), "unsubscribe "+topic)
}

// Subscribed reports whether a route exists for exactly topic.
func (c *Client) Subscribed(topic string) bool {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	_, ok := c.routes[topic]
	return ok
}
