// Package backend provides client factories for the remote services a
// connkit process talks to. Each factory is registered with a
// client.Registry, which constructs the client once and rebuilds it after a
// Reset.
package backend
