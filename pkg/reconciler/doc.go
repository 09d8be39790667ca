// Package reconciler runs a background invariant auditor independent of the
// sync path: it checks for dirty rows with no backing mutation, pending
// mutations referencing rows that no longer exist, and mutations stuck in
// the syncing state past a stall threshold, logging and repairing what it
// safely can.
package reconciler
