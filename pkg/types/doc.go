// Package types holds the data model shared across the replication stack:
// row metadata, table metadata, pending mutations, conflict strategies, and
// the priority tags used by the replication manager's scheduler. Nothing in
// this package imports storage, table, or manager, so every other package
// can depend on it without a cycle.
package types
