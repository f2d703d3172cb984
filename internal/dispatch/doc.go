// Package dispatch routes decoded ticks: coalesced last-tick writes to the
// shared cache, LTP-deduplicated broadcast to viewer sessions, and
// non-blocking hand-off to the alert engine worker pool.
package dispatch
