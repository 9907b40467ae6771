// Package version reports the build identity of a connkit binary, from
// linker flags when set and from the embedded VCS stamps otherwise.
package version
