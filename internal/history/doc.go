// Package history persists what the telemetry pipeline produces for each tank.
//
// Two stores share the SQLite database:
//
//   - Store keeps the append-only list of formatted history records that the
//     UI shows and the operator may clear.
//   - ForwardStore keeps a single slot per tank holding the latest raw sample
//     awaiting the next collector POST. Every successful tick overwrites it.
//
// Rows are keyed by tank ID. Renames and deletes of tanks move or remove them
// inside the registry transaction (see package tank).
package history
