// Package mqtt connects knxsync to the broker that fronts the
// home-automation platform.
//
// Entity states arrive as retained JSON documents and service calls leave
// as JSON requests (see Topics for the layout). The client reconnects on
// its own, replays subscriptions after each reconnect and keeps a retained
// availability document on <prefix>/knxsync/status, with the broker's last
// will covering crashes.
//
// Enable cfg.Broker.TLS when the broker is not on the same host.
//
//	topics := mqtt.Topics{Prefix: cfg.Platform.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
