// Package observer rebuilds an eventually-consistent copy of project state
// from the event stream. Incoming wire events are validated and normalized
// into typed commands by the mapper, applied one at a time by the
// conflict-resolving reducer, and healed after connectivity gaps by the
// resynchronization controller. Malformed events become no-ops, stale writes
// lose by timestamp, and local state is only ever replaced wholesale by a
// fully successful resync, so an observer shows fully-applied consistent
// state or its unchanged prior state and nothing in between.
package observer
