// Package broadcast fans out row-change notifications across processes on
// the same host, standing in for the browser BroadcastChannel the original
// web client used for cross-tab notification. Delivery is best-effort: a
// slow or absent peer never blocks the publisher, and every receiver
// re-validates a delivered change against its own store rather than trusting
// the wire payload as authoritative.
package broadcast
