// Package metrics provides Prometheus metrics and the health endpoint.
//
// Key metrics:
//   - Upstream feed connection state and decoded tick rates
//   - Tick dispatcher flush sizes and engine queue drops
//   - Alert transitions and bulk write failures
//   - Notification enqueue counts per channel
//   - Live session counts
package metrics
