// Package component defines the lifecycle contract shared by connkit's
// long-lived parts: the connection manager, the client registry and the
// recovery coordinator.
//
// Components are started in registration order and stopped in reverse, so
// register dependencies first.
package component
