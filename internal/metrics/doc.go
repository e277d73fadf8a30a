// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Live sessions and rooms held by the relay hub
//   - Envelopes relayed per kind and fan-out deliveries
//   - Delivery failures (dead or saturated receivers)
//   - Dropped frames (malformed, unknown kind, bad payload, unbound sender)
//   - Client reconnect attempts and sends dropped while disconnected
package metrics
