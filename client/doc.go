// Package client keeps one shared instance per logical backend client.
//
// Registry.GetOrCreate builds a client at most once per key: callers that
// arrive while construction is in flight join it, and a failed construction
// is reported to every joined caller and not cached. Only the registry
// replaces a handle, through Reset.
package client
