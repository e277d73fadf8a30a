// Package protocol defines the wire format of the conversation relay.
//
// Every frame is a JSON envelope:
//
//	{"type": "<kind>", "payload": {...}}
//
// Conventions:
//   - The payload is carried as raw JSON so fields a peer does not know survive a round trip
//   - Each kind has one payload variant; DecodePayload returns *PayloadError on a shape mismatch
//   - Unknown kinds decode fine and are ignored by receivers
//   - The server renames kinds on delivery (message-sent is delivered as message-received,
//     status-changed as status-updated, mark-read as message-read, typing as user-typing)
package protocol
