// Package database provides the PostgreSQL connection pool and the
// conversation access store used to authorize websocket upgrades.
//
// The relay keeps no conversation history. The only table it reads is
// conversation_access, a list of (agent_id, conversation_id) grants
// maintained by the surrounding platform.
package database
