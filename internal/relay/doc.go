// Package relay implements the server side of the conversation relay.
//
// The relay:
//   - Upgrades HTTP requests on the websocket path into Sessions
//   - Binds each Session to one agent and one conversation with the first auth frame
//   - Keeps a Hub mapping conversation id → live sessions (a room)
//   - Fans every relayed envelope out to the other members of the sender's room
//   - Removes a session from its room as soon as its transport fails
//
// Each socket has exactly one reader and one writer goroutine. The hub lock is
// never held across socket I/O: broadcasts snapshot the room and enqueue into
// per-session queues, which the writers drain in FIFO order.
package relay
