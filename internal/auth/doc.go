// Package auth guards the relay's websocket upgrade.
//
// Tokens are JWTs whose "sub" claim is the agent id, signed with HS256 or
// RS256. The Guard middleware verifies the token and, when the request names
// a conversation, asks an Authorizer whether the agent may join it.
package auth
