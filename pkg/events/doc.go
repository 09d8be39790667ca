// Package events provides an in-memory event broker for Ripple's observability
// surface: sync lifecycle, conflict resolution, quota alerts, and network
// status transitions, all broadcast non-blockingly to any number of
// subscribers.
package events
