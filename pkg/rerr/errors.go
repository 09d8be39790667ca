package rerr

import "errors"

// Sentinel errors. Callers compare with errors.Is; call sites wrap these
// with fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrVersionConflict is raised by an optimistic write whose expected
	// version no longer matches the stored row.
	ErrVersionConflict = errors.New("replicated row version conflict")

	// ErrQueryTimeout is raised by queryByField when a scan exceeds the
	// configured hard timeout.
	ErrQueryTimeout = errors.New("query exceeded hard timeout")

	// ErrStorageQuotaExceeded is raised by the durable store when a write
	// would exceed the estimated quota.
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")

	// ErrSchemaUpgrade is raised at startup when a required space or index
	// is missing and cannot be created non-destructively.
	ErrSchemaUpgrade = errors.New("schema upgrade failed")

	// ErrQueueCycle is raised when the mutation dependency graph contains a
	// cycle; mutations in the cycle are marked failed rather than blocking
	// the rest of the queue.
	ErrQueueCycle = errors.New("mutation dependency cycle detected")

	// ErrUnboundedIncremental names the case of an incremental sync that
	// would return more rows than the safety threshold allows. The sync
	// engine does not return it: IncrementalSync checks the count and
	// escalates to a full sync directly.
	ErrUnboundedIncremental = errors.New("incremental sync exceeded safety threshold")

	// ErrTableNotRegistered is raised when an operation names a table that
	// was never registered with the manager.
	ErrTableNotRegistered = errors.New("table not registered")

	// ErrReplicationDisabled is raised when a sync is attempted while the
	// global or per-table kill switch is engaged.
	ErrReplicationDisabled = errors.New("replication disabled")

	// ErrRowNotFound is returned by store lookups that find no record.
	ErrRowNotFound = errors.New("row not found")

	// ErrSyncCancelled is returned when a sync observes its cancellation
	// signal at a suspension point.
	ErrSyncCancelled = errors.New("sync cancelled")
)
