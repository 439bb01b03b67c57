// Package collector posts forward payloads to the remote collector service.
//
// Each tank's latest payload is sent as the JSON body of
//
//	POST <scheme>://<host>/api/tanks/notify/{tankID}
//
// Any 2xx response is success. Other statuses and transport failures are
// returned to the caller, which logs them and waits for the next tick.
package collector
