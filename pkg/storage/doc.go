// Package storage is the durable store: a single bbolt database holding four
// named spaces (replicated_rows, table_metadata, pending_mutations,
// mutation_backup) plus a secondary-index space. BoltStore is the only
// implementation; storagetest provides a BoltStore fixture in a temporary
// directory for tests.
package storage
