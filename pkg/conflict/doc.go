// Package conflict resolves collisions between a locally-modified row and a
// remote row fetched during sync. Resolve is pure: given the same inputs it
// always returns the same output, with logging and audit recording left to
// the caller's side effects. Resolver additionally keeps a bounded audit
// log of recent resolutions for the monitoring surface.
package conflict
