package storage

import (
	"context"

	"github.com/cuemby/ripple/pkg/types"
)

// RawRow is a durable row's metadata wrapper plus its opaque, caller-owned
// payload. Every space in the store deals in RawRow; pkg/table is
// responsible for marshalling the generic row type R into Data.
type RawRow struct {
	Meta types.RowMeta
	Data []byte
}

// QueryOptions narrows a queryByField scan.
type QueryOptions struct {
	Limit int
}

// Store is the durable, transactional key-value store backing every
// replicated table: get/put/delete by primary key, secondary-index range
// queries, batched writes within a single transaction, getAll with an
// optional filter, and quota inspection.
//
// All mutating methods are atomic within a single underlying transaction;
// partial writes are never observable to a concurrent reader.
type Store interface {
	// GetRow reads one row by (tableName, id). Returns rerr.ErrRowNotFound
	// if absent.
	GetRow(ctx context.Context, tableName, id string) (RawRow, error)

	// PutRow upserts one row.
	PutRow(ctx context.Context, row RawRow) error

	// DeleteRow removes a row by primary key.
	DeleteRow(ctx context.Context, tableName, id string) error

	// GetAllRows enumerates every row in a table. If filter is non-nil,
	// only rows for which it returns true are included.
	GetAllRows(ctx context.Context, tableName string, filter func(RawRow) bool) ([]RawRow, error)

	// QueryByIndex range-scans the named secondary index for an exact field
	// value match. The index must have been declared at RegisterTable time
	// via types.TableRegistration.SecondaryIndexes; callers without a
	// matching index should fall back to a GetAllRows scan themselves.
	QueryByIndex(ctx context.Context, tableName, field, value string, opts QueryOptions) ([]RawRow, error)

	// BatchPutRows writes many rows to one table in a single transaction.
	BatchPutRows(ctx context.Context, tableName string, rows []RawRow) error

	// RegisterTable records a table's registration, including its declared
	// secondary indexes, which later row writes maintain. Non-destructive:
	// rows already stored are left untouched and are not reindexed.
	RegisterTable(ctx context.Context, reg types.TableRegistration) error

	// GetTableMeta / PutTableMeta manage the per-table metadata record.
	GetTableMeta(ctx context.Context, tableName string) (types.TableMeta, error)
	PutTableMeta(ctx context.Context, meta types.TableMeta) error

	// Pending mutation queue.
	PutMutation(ctx context.Context, m types.PendingMutation) error
	GetMutation(ctx context.Context, id string) (types.PendingMutation, error)
	DeleteMutation(ctx context.Context, id string) error
	ListMutations(ctx context.Context, tableName string) ([]types.PendingMutation, error)

	// BackupMutation writes a copy of m to the mutation_backup space; called
	// after every queue state transition so an interrupted upload can be
	// replayed from disk.
	BackupMutation(ctx context.Context, m types.PendingMutation) error

	// Quota returns the store's current usage estimate and configured quota,
	// both in bytes.
	Quota(ctx context.Context) (used int64, quota int64, err error)

	// Close releases the underlying database handle.
	Close() error
}
