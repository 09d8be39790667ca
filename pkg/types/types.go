package types

import "time"

// KeySeparator joins a table name and row id into the compound primary key
// used by the durable store. Chosen because the ASCII unit separator cannot
// occur in a table name or in any component of a composite application id.
const KeySeparator = "\x1f"

// SyncStatus is the reconciliation state of a single row.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// RowMeta is the per-row metadata that accompanies every replicated row,
// independent of the row's own data shape.
type RowMeta struct {
	TableName      string     `json:"tableName"`
	ID             string     `json:"id"`
	Version        int64      `json:"version"`
	LastSyncedAt   time.Time  `json:"lastSyncedAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	LastModifiedAt time.Time  `json:"lastModifiedAt"`
	AccessCount    int64      `json:"accessCount"`
	IsDirty        bool       `json:"isDirty"`
	SyncStatus     SyncStatus `json:"syncStatus"`
}

// Priority is the sync scheduling tag assigned to a table at registration.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// rank orders priorities for the manager's syncAll ordering: lower rank
// synchronizes first.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Less reports whether p should be synchronized before other.
func (p Priority) Less(other Priority) bool {
	return p.rank() < other.rank()
}

// ConflictStrategy selects how the resolver reconciles a local row against
// a remote one for a given table.
type ConflictStrategy string

const (
	// StrategyLWW compares updated_at with the three-tier comparator.
	StrategyLWW ConflictStrategy = "last-write-wins"
	// StrategyServerAuthoritative always keeps the remote value.
	StrategyServerAuthoritative ConflictStrategy = "server-authoritative"
	// StrategyClientAuthoritative always keeps the local value.
	StrategyClientAuthoritative ConflictStrategy = "client-authoritative"
	// StrategyFieldMerge starts from remote and overwrites declared
	// client-authoritative fields with the local value.
	StrategyFieldMerge ConflictStrategy = "field-merge"
)

// TableMeta is the per-table metadata record kept in the table_metadata
// space, one per registered table.
type TableMeta struct {
	TableName              string     `json:"tableName"`
	LastFullSyncAt         time.Time  `json:"lastFullSyncAt"`
	LastIncrementalSyncAt  time.Time  `json:"lastIncrementalSyncAt"`
	SyncStatus             SyncStatus `json:"syncStatus"`
	LastError              string     `json:"lastError,omitempty"`
	ConflictCount          int64      `json:"conflictCount"`
	PendingMutationCount   int64      `json:"pendingMutationCount"`
}

// MutationOp is the kind of write a pending mutation represents.
type MutationOp string

const (
	MutationInsert      MutationOp = "insert"
	MutationUpdate      MutationOp = "update"
	MutationDelete      MutationOp = "delete"
	MutationBatchUpdate MutationOp = "batch-update"
)

// MutationStatus tracks a pending mutation's progress through the upload
// pipeline.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationSyncing MutationStatus = "syncing"
	MutationFailed  MutationStatus = "failed"
	MutationSuccess MutationStatus = "success"
)

// PendingMutation is a durable record of a local write awaiting upload.
type PendingMutation struct {
	ID             string         `json:"id"`
	TableName      string         `json:"tableName"`
	RowID          string         `json:"rowId"`
	Operation      MutationOp     `json:"operation"`
	Data           []byte         `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	SequenceNumber int64          `json:"sequenceNumber"`
	DependsOn      []string       `json:"dependsOn,omitempty"`
	Retries        int            `json:"retries"`
	Status         MutationStatus `json:"status"`
	LastError      string         `json:"lastError,omitempty"`
}

// TableRegistration describes a table at the time it is mounted with the
// replication manager.
type TableRegistration struct {
	Name             string
	Priority         Priority
	TTL              time.Duration
	Strategy         ConflictStrategy
	ClientAuthFields []string // used only when Strategy == StrategyFieldMerge
	SecondaryIndexes []string // field names to index for queryByField
}

// CacheStats is the aggregate size/row-count snapshot returned by
// cacheStats().
type CacheStats struct {
	UsedBytes   int64
	QuotaBytes  int64
	RowsByTable map[string]int64
}

// SyncResult is the per-sync outcome handed back to the caller and fed to
// monitoring.
type SyncResult struct {
	TableName        string
	Success          bool
	RowsSynced       int
	ConflictsResolved int
	Errors           []string
	Duration         time.Duration
}

// QueueHealth is a point-in-time snapshot of the mutation queue's size,
// used to decide whether to warn or error.
type QueueHealth struct {
	PendingCount int
	FailedCount  int
	OldestAge    time.Duration
}

const (
	// QueueWarnThreshold is the pending-mutation count at which the manager
	// raises a queue-saturation warning.
	QueueWarnThreshold = 500
	// QueueErrorThreshold is the pending-mutation count at which the
	// manager raises a queue-saturation error; writes are not throttled.
	QueueErrorThreshold = 1000
)
