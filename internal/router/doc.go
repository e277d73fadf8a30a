// Package router turns inbound relay frames into typed client callbacks.
//
// Every decoded envelope is offered to OnMessage first, then to at most one
// typed callback chosen by its kind. Malformed frames and unknown kinds are
// counted and otherwise ignored.
package router
