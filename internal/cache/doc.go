// Package cache wraps the shared Redis store: last tick and last close
// hashes, per-instrument viewer sets, the persistent-alert stock set and the
// global stock set. Batch operations use a single pipelined round-trip.
package cache
