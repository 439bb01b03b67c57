// Package remoteaccess arbitrates the single remote-control session a tank
// controller allows.
//
// An operator request writes the controller's request point and subscribes
// to its status point. The person at the tank then grants or denies access
// on the panel, and the controller reports the decision through the status
// point:
//
//	 1  granted
//	-1  denied
//	-2  terminated at the tank
//	 0  reset (written by TankWatch to acknowledge)
//	-3  closed by the operator (written by TankWatch)
//
// A denial or termination must be acknowledged with 0, otherwise the
// controller's interlock stays latched. Every transition of one tank is
// serialized by the tank's entry lock, which is always taken before the
// supervisor's I/O lock.
package remoteaccess
