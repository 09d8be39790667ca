// Package syncengine performs bidirectional reconciliation for one table:
// a streamed, chunked full sync; an incremental sync guarded by a safety
// threshold that escalates to full sync when exceeded; and a mutation
// upload pipeline that topologically orders the pending queue, retries
// with exponential backoff, and backs up every state transition.
package syncengine
