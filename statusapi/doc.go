// Package statusapi serves a read-mostly diagnostics API over gin:
// component health, connection state, module resolutions, recovery
// counters, registered clients and build version.
package statusapi
