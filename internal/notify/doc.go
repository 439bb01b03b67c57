// Package notify fans tank events out to the operator UI and the site's
// MQTT broker.
//
// Components depend on narrow notifier interfaces of their own; Notifier
// satisfies all of them and forwards each event to every registered
// Publisher. Publishers must not block: the WebSocket hub drops messages
// for slow clients and MQTTPublisher queues to a background goroutine.
package notify
