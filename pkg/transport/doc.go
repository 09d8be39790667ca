// Package transport defines the server query/mutation surface the sync
// engine consumes: paged and incremental fetch, row counts, upserts,
// deletes, and a server-push subscription. grpctransport and transporttest
// provide concrete and fake implementations respectively.
package transport
