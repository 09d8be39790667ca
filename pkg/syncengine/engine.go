package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/cuemby/ripple/pkg/conflict"
	"github.com/cuemby/ripple/pkg/log"
	"github.com/cuemby/ripple/pkg/rerr"
	"github.com/cuemby/ripple/pkg/storage"
	"github.com/cuemby/ripple/pkg/transport"
	"github.com/cuemby/ripple/pkg/types"
)

// Config bounds one table's sync behavior: page sizes, chunking, and the
// incremental-sync safety threshold.
type Config struct {
	PageSize               int
	ChunkSize              int
	IncrementalSafetyLimit int64
	MaxMutationRetries      int
	PageRateLimit           rate.Limit // pages/sec during full sync
}

func DefaultConfig() Config {
	return Config{
		PageSize:               500,
		ChunkSize:              100,
		IncrementalSafetyLimit: 5000,
		MaxMutationRetries:      5,
		PageRateLimit:           10,
	}
}

// MemoryPressureFunc reports whether the host is under enough memory
// pressure that full sync should pause briefly between pages.
type MemoryPressureFunc func() bool

// Engine performs full sync, incremental sync, and mutation upload for one
// table, writing rows through the durable store directly (pkg/table's own
// encode/decode conventions are mirrored here since rows cross the wire as
// opaque JSON).
type Engine struct {
	tableName string
	reg       types.TableRegistration
	store     storage.Store
	transport transport.Transport
	resolver  *conflict.Resolver
	cfg       Config
	limiter   *rate.Limiter
	memPressure MemoryPressureFunc
}

// New constructs an Engine for reg.Name, sharing resolver with the
// manager's other engines so every table's conflict audit log lands in one
// ring buffer.
func New(reg types.TableRegistration, store storage.Store, tr transport.Transport, resolver *conflict.Resolver, cfg Config, memPressure MemoryPressureFunc) *Engine {
	limit := cfg.PageRateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Engine{
		tableName:   reg.Name,
		reg:         reg,
		store:       store,
		transport:   tr,
		resolver:    resolver,
		cfg:         cfg,
		limiter:     rate.NewLimiter(limit, 1),
		memPressure: memPressure,
	}
}

// FullSync downloads every row matching filter, streamed page by page and
// written through batchSetChunked-equivalent transactions, then updates
// lastFullSyncAt. Rows present locally but absent from the full result are
// deleted if clean; dirty absentees are preserved and reported as
// conflicts.
func (e *Engine) FullSync(ctx context.Context, filter map[string]string) (types.SyncResult, error) {
	start := time.Now()
	result := types.SyncResult{TableName: e.tableName, Success: true}

	seen := make(map[string]struct{})
	pageToken := ""

	for {
		select {
		case <-ctx.Done():
			result.Success = false
			result.Errors = append(result.Errors, rerr.ErrSyncCancelled.Error())
			return result, rerr.ErrSyncCancelled
		default:
		}

		if err := e.limiter.Wait(ctx); err != nil {
			result.Success = false
			return result, err
		}

		page, err := e.transport.FetchPage(ctx, transport.FetchRequest{
			TableName: e.tableName,
			Filter:    filter,
			PageToken: pageToken,
			PageSize:  e.cfg.PageSize,
		})
		if err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
			return result, fmt.Errorf("full sync fetch page failed: %w", err)
		}

		rows := make([]storage.RawRow, 0, len(page.Rows))
		for _, r := range page.Rows {
			seen[r.ID] = struct{}{}
			rows = append(rows, e.applyRemote(ctx, r))
		}
		if err := e.writeChunked(ctx, rows); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
			return result, err
		}
		result.RowsSynced += len(rows)

		if e.memPressure != nil && e.memPressure() {
			time.Sleep(50 * time.Millisecond)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if err := e.pruneAbsent(ctx, seen); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	meta, _ := e.store.GetTableMeta(ctx, e.tableName)
	meta.TableName = e.tableName
	meta.LastFullSyncAt = time.Now()
	meta.SyncStatus = types.SyncStatusSynced
	if err := e.store.PutTableMeta(ctx, meta); err != nil {
		log.WithTable(e.tableName).Warn().Err(err).Msg("failed to persist table metadata after full sync")
	}

	result.Duration = time.Since(start)
	return result, nil
}

// applyRemote converts a wire row to a durable row. When the existing local
// row is clean (or absent), the remote row is accepted outright, lastSyncedAt
// is set to now, and version is max(local.version, 0)+1. When the existing
// row is dirty, the two are reconciled through the table's configured
// conflict strategy before either wins; accepting "remote" unconditionally
// in that case would silently drop an unsynced local edit.
func (e *Engine) applyRemote(ctx context.Context, r transport.RawRow) storage.RawRow {
	existing, err := e.store.GetRow(ctx, e.tableName, r.ID)
	if err != nil || !existing.Meta.IsDirty {
		version := int64(0)
		if err == nil {
			version = existing.Meta.Version
		}
		return storage.RawRow{
			Meta: types.RowMeta{
				TableName:    e.tableName,
				ID:           r.ID,
				Version:      version + 1,
				LastSyncedAt: time.Now(),
				SyncStatus:   types.SyncStatusSynced,
			},
			Data: r.Data,
		}
	}

	local := conflict.Row{ID: existing.Meta.ID, LastModifiedAt: existing.Meta.LastModifiedAt, Fields: decodeFields(existing.Data)}
	remote := conflict.Row{ID: r.ID, Fields: decodeFields(r.Data)}
	millis := r.UpdatedAtMillis
	remote.UpdatedAtMillis = &millis
	if r.HasMicros {
		micros := r.UpdatedAtMicros
		remote.UpdatedAtMicros = &micros
	}

	winner, side := e.resolver.ResolveDetailed(e.tableName, e.reg.Strategy, local, remote, e.reg.ClientAuthFields)
	data, err := json.Marshal(winner.Fields)
	if err != nil {
		log.WithTable(e.tableName).Warn().Err(err).Msg("failed to encode conflict winner, keeping remote payload")
		data = r.Data
	}

	meta := existing.Meta
	meta.Version++
	meta.LastSyncedAt = time.Now()
	if side == "remote" {
		meta.IsDirty = false
		meta.SyncStatus = types.SyncStatusSynced
	} else {
		// Local won outright, or a field-merge kept some local-authoritative
		// value the server hasn't acknowledged: the row still owes an
		// upload.
		meta.SyncStatus = types.SyncStatusPending
	}

	return storage.RawRow{Meta: meta, Data: data}
}

func decodeFields(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// ApplyPushedRow resolves one real-time pushed row against the current
// local row and writes the winner through the same applyRemote path a sync
// page uses, so a push and a sync can never disagree about the same
// (tableName, id): both read, resolve, and write inside a single store
// transaction.
func (e *Engine) ApplyPushedRow(ctx context.Context, r transport.RawRow) error {
	return e.store.PutRow(ctx, e.applyRemote(ctx, r))
}

func (e *Engine) writeChunked(ctx context.Context, rows []storage.RawRow) error {
	chunkSize := e.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 100
	}
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := e.store.BatchPutRows(ctx, e.tableName, rows[start:end]); err != nil {
			return fmt.Errorf("failed to write sync chunk: %w", err)
		}
	}
	return nil
}

// pruneAbsent deletes local clean rows not present in the latest full sync
// result; dirty absentees are preserved and flagged as conflicts.
func (e *Engine) pruneAbsent(ctx context.Context, seen map[string]struct{}) error {
	local, err := e.store.GetAllRows(ctx, e.tableName, nil)
	if err != nil {
		return fmt.Errorf("failed to enumerate local rows for prune: %w", err)
	}

	for _, row := range local {
		if _, ok := seen[row.Meta.ID]; ok {
			continue
		}
		if row.Meta.IsDirty {
			row.Meta.SyncStatus = types.SyncStatusConflict
			_ = e.store.PutRow(ctx, row)
			continue
		}
		if err := e.store.DeleteRow(ctx, e.tableName, row.Meta.ID); err != nil {
			return fmt.Errorf("failed to prune absent row %s: %w", row.Meta.ID, err)
		}
	}
	return nil
}

// IncrementalSync fetches rows changed since the table's lastIncrementalSyncAt.
// It first checks the expected delta size via a lightweight count query; if
// the delta exceeds cfg.IncrementalSafetyLimit it escalates to FullSync.
func (e *Engine) IncrementalSync(ctx context.Context, filter map[string]string) (types.SyncResult, error) {
	start := time.Now()
	meta, err := e.store.GetTableMeta(ctx, e.tableName)
	if err != nil {
		return types.SyncResult{}, err
	}
	since := meta.LastIncrementalSyncAt

	count, err := e.transport.Count(ctx, transport.CountRequest{TableName: e.tableName, Filter: filter, Since: since})
	if err != nil {
		return types.SyncResult{}, fmt.Errorf("incremental count query failed: %w", err)
	}

	if count > e.cfg.IncrementalSafetyLimit {
		log.WithTable(e.tableName).Warn().Int64("delta", count).Msg("incremental sync exceeded safety threshold, escalating to full sync")
		return e.FullSync(ctx, filter)
	}

	resp, err := e.transport.FetchIncremental(ctx, transport.IncrementalRequest{TableName: e.tableName, Filter: filter, Since: since})
	if err != nil {
		return types.SyncResult{}, fmt.Errorf("incremental fetch failed: %w", err)
	}

	rows := make([]storage.RawRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		rows = append(rows, e.applyRemote(ctx, r))
	}
	if err := e.writeChunked(ctx, rows); err != nil {
		return types.SyncResult{}, err
	}

	meta.LastIncrementalSyncAt = time.Now()
	meta.SyncStatus = types.SyncStatusSynced
	if err := e.store.PutTableMeta(ctx, meta); err != nil {
		log.WithTable(e.tableName).Warn().Err(err).Msg("failed to persist table metadata after incremental sync")
	}

	return types.SyncResult{
		TableName:  e.tableName,
		Success:    true,
		RowsSynced: len(rows),
		Duration:   time.Since(start),
	}, nil
}

// QueueHealth reports the pending-mutation queue's size and oldest age for
// the warn/error thresholds in pkg/types.
func (e *Engine) QueueHealth(ctx context.Context) (types.QueueHealth, error) {
	muts, err := e.store.ListMutations(ctx, e.tableName)
	if err != nil {
		return types.QueueHealth{}, err
	}

	health := types.QueueHealth{}
	var oldest time.Time
	for _, m := range muts {
		if m.Status == types.MutationFailed {
			health.FailedCount++
		} else {
			health.PendingCount++
		}
		if oldest.IsZero() || m.Timestamp.Before(oldest) {
			oldest = m.Timestamp
		}
	}
	if !oldest.IsZero() {
		health.OldestAge = time.Since(oldest)
	}
	return health, nil
}

// UploadMutations drains the pending mutation queue in causal order: a
// dependency DAG is built from explicit dependsOn edges plus implicit edges
// between mutations sharing a rowId (ordered by sequenceNumber), then
// topologically sorted with Kahn's algorithm. Mutations in a cycle are
// marked failed with a structural error; the rest proceed.
func (e *Engine) UploadMutations(ctx context.Context) (types.SyncResult, error) {
	start := time.Now()
	result := types.SyncResult{TableName: e.tableName, Success: true}

	muts, err := e.store.ListMutations(ctx, e.tableName)
	if err != nil {
		return result, err
	}

	ordered, cyclic := topoSort(muts)
	for _, m := range cyclic {
		m.Status = types.MutationFailed
		m.LastError = rerr.ErrQueueCycle.Error()
		if err := e.store.PutMutation(ctx, m); err != nil {
			log.WithMutationID(m.ID).Warn().Err(err).Msg("failed to persist cyclic mutation failure")
		}
		_ = e.store.BackupMutation(ctx, m)
		result.Errors = append(result.Errors, fmt.Sprintf("mutation %s: %v", m.ID, rerr.ErrQueueCycle))
	}

	for _, m := range ordered {
		select {
		case <-ctx.Done():
			result.Success = false
			result.Errors = append(result.Errors, rerr.ErrSyncCancelled.Error())
			return result, rerr.ErrSyncCancelled
		default:
		}

		if err := e.uploadOne(ctx, m); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.RowsSynced++
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) uploadOne(ctx context.Context, m types.PendingMutation) error {
	m.Status = types.MutationSyncing
	if err := e.store.PutMutation(ctx, m); err != nil {
		return err
	}
	_ = e.store.BackupMutation(ctx, m)

	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = 0
	boff.MaxInterval = 30 * time.Second

	attempt := func() error {
		switch m.Operation {
		case types.MutationDelete:
			return e.transport.Delete(ctx, e.tableName, m.RowID)
		default:
			_, err := e.transport.Upsert(ctx, e.tableName, transport.RawRow{ID: m.RowID, Data: m.Data})
			return err
		}
	}

	err := backoff.Retry(func() error {
		if m.Retries >= e.cfg.MaxMutationRetries {
			return backoff.Permanent(fmt.Errorf("mutation %s exhausted retries", m.ID))
		}
		err := attempt()
		if err != nil {
			m.Retries++
		}
		return err
	}, backoff.WithMaxRetries(boff, uint64(e.cfg.MaxMutationRetries)))

	if err != nil {
		m.Status = types.MutationFailed
		m.LastError = err.Error()
		_ = e.store.PutMutation(ctx, m)
		_ = e.store.BackupMutation(ctx, m)
		return fmt.Errorf("mutation %s failed: %w", m.ID, err)
	}

	m.Status = types.MutationSuccess
	if err := e.store.DeleteMutation(ctx, m.ID); err != nil {
		return err
	}
	_ = e.store.BackupMutation(ctx, m)

	if row, err := e.store.GetRow(ctx, e.tableName, m.RowID); err == nil && m.Operation != types.MutationDelete {
		row.Meta.IsDirty = false
		row.Meta.SyncStatus = types.SyncStatusSynced
		row.Meta.LastSyncedAt = time.Now()
		_ = e.store.PutRow(ctx, row)
	}

	return nil
}

// topoSort applies Kahn's algorithm over the dependency graph implied by
// dependsOn plus same-row sequencing, returning the upload order and any
// mutations caught in a cycle.
func topoSort(muts []types.PendingMutation) (ordered, cyclic []types.PendingMutation) {
	byID := make(map[string]types.PendingMutation, len(muts))
	for _, m := range muts {
		byID[m.ID] = m
	}

	deps := make(map[string]map[string]struct{}, len(muts))
	for _, m := range muts {
		deps[m.ID] = make(map[string]struct{})
		for _, d := range m.DependsOn {
			if _, ok := byID[d]; ok {
				deps[m.ID][d] = struct{}{}
			}
		}
	}

	byRow := make(map[string][]types.PendingMutation)
	for _, m := range muts {
		byRow[m.RowID] = append(byRow[m.RowID], m)
	}
	for _, group := range byRow {
		sort.Slice(group, func(i, j int) bool { return group[i].SequenceNumber < group[j].SequenceNumber })
		for i := 1; i < len(group); i++ {
			deps[group[i].ID][group[i-1].ID] = struct{}{}
		}
	}

	indegree := make(map[string]int, len(muts))
	forward := make(map[string][]string, len(muts))
	for id, d := range deps {
		indegree[id] = len(d)
		for dep := range d {
			forward[dep] = append(forward[dep], id)
		}
	}

	var queue []string
	for _, m := range muts {
		if indegree[m.ID] == 0 {
			queue = append(queue, m.ID)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return byID[queue[i]].SequenceNumber < byID[queue[j]].SequenceNumber })

	visited := make(map[string]struct{})
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited[id] = struct{}{}
		ordered = append(ordered, byID[id])

		var next []string
		for _, child := range forward[id] {
			indegree[child]--
			if indegree[child] == 0 {
				next = append(next, child)
			}
		}
		sort.Slice(next, func(i, j int) bool { return byID[next[i]].SequenceNumber < byID[next[j]].SequenceNumber })
		queue = append(queue, next...)
	}

	for _, m := range muts {
		if _, ok := visited[m.ID]; !ok {
			cyclic = append(cyclic, m)
		}
	}
	return ordered, cyclic
}
