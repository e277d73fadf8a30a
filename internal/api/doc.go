// Package api builds the relay's HTTP surface: the websocket upgrade
// endpoint, health and metrics, and read-only presence queries.
package api
