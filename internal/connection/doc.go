// Package connection implements the client side of the relay.
//
// The Manager:
//   - Owns exactly one websocket transport at a time
//   - Sends the auth handshake as the first frame of every connection
//   - Reconnects after a fixed delay when the transport drops
//   - Routes inbound frames to typed callbacks through router.Dispatcher
//   - Optionally queues sends made while disconnected in a bounded Outbox
package connection
