// Package telemetry reads a tank's data points and turns them into the two
// shapes TankWatch stores: the raw forward payload for the remote collector
// and the formatted history record shown to the operator.
//
// A tick is all-or-nothing. Collect attempts every point and fails the whole
// sample if any read fails; Process resolves alerts before writing anything,
// so a broken alert catalog leaves both stores untouched.
//
// Runner wires the pipeline to the polling timers of package supervisor.
package telemetry
