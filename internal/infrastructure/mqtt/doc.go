// Package mqtt provides the MQTT client TankWatch Core uses to mirror UI
// events onto the site broker.
//
// The client reconnects automatically, keeps a retained online/offline
// status on "<prefix>/system/status" (with a Last Will for crashes) and
// validates every publish (topic, QoS, payload size).
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(client.Topics().Event("connection-lost"), payload, 1, false)
package mqtt
