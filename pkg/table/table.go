package table

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/ripple/pkg/conflict"
	"github.com/cuemby/ripple/pkg/log"
	"github.com/cuemby/ripple/pkg/rerr"
	"github.com/cuemby/ripple/pkg/storage"
	"github.com/cuemby/ripple/pkg/types"
)

// Row wraps a row's durable metadata around its caller-owned data shape R.
type Row[R any] struct {
	Meta types.RowMeta
	Data R
}

// Listener is invoked with a table's full row set after any change.
// Notifications are coalesced; a listener never observes a partial write.
type Listener[R any] func(rows []Row[R])

// editProtectionWindow rows modified more recently than this are never
// eviction candidates, regardless of score.
const editProtectionWindow = 5 * time.Minute

// notifyCoalesceDelay batches bursts of writes into one listener callback.
const notifyCoalesceDelay = 100 * time.Millisecond

// optimisticRetryBound bounds optimisticUpdate's retry loop on version
// conflicts.
const optimisticRetryBound = 5

// OnlineFunc reports current network liveness, consumed from the host
// runtime's connectivity signal.
type OnlineFunc func() bool

// Table is the generic replicated-table implementation, parameterised by
// row type R.
type Table[R any] struct {
	name     string
	store    storage.Store
	resolver *conflict.Resolver
	reg      types.TableRegistration
	online   OnlineFunc

	cache *lru.Cache[string, Row[R]]

	mu             sync.Mutex
	listeners      map[int]Listener[R]
	nextListenerID int
	notifyPending  bool
	notifyTimer    *time.Timer

	syncFn func(ctx context.Context, filter map[string]string) (types.SyncResult, error)
}

// New constructs a Table backed by store, using reg's registration (name,
// TTL, conflict strategy, secondary indexes). cacheSize bounds the
// in-process read-through LRU; 0 disables it.
func New[R any](store storage.Store, resolver *conflict.Resolver, reg types.TableRegistration, online OnlineFunc, cacheSize int) (*Table[R], error) {
	t := &Table[R]{
		name:      reg.Name,
		store:     store,
		resolver:  resolver,
		reg:       reg,
		online:    online,
		listeners: make(map[int]Listener[R]),
	}

	if cacheSize > 0 {
		c, err := lru.New[string, Row[R]](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to build read-through cache: %w", err)
		}
		t.cache = c
	}

	if err := store.RegisterTable(context.Background(), reg); err != nil {
		return nil, fmt.Errorf("failed to register table %s: %w", reg.Name, err)
	}

	return t, nil
}

// SetSyncFunc wires the sync engine's per-table sync entry point that Sync
// delegates to.
func (t *Table[R]) SetSyncFunc(fn func(ctx context.Context, filter map[string]string) (types.SyncResult, error)) {
	t.syncFn = fn
}

func (t *Table[R]) Name() string { return t.name }

func (t *Table[R]) decode(raw storage.RawRow) (Row[R], error) {
	var row Row[R]
	row.Meta = raw.Meta
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &row.Data); err != nil {
			return row, fmt.Errorf("failed to decode row %s: %w", raw.Meta.ID, err)
		}
	}
	return row, nil
}

func (t *Table[R]) encode(row Row[R]) (storage.RawRow, error) {
	data, err := json.Marshal(row.Data)
	if err != nil {
		return storage.RawRow{}, fmt.Errorf("failed to encode row %s: %w", row.Meta.ID, err)
	}
	return storage.RawRow{Meta: row.Meta, Data: data}, nil
}

// Get reads the durable row, updating lastAccessedAt and accessCount.
func (t *Table[R]) Get(ctx context.Context, id string) (Row[R], error) {
	if t.cache != nil {
		if cached, ok := t.cache.Get(id); ok {
			cached.Meta.LastAccessedAt = time.Now()
			cached.Meta.AccessCount++
			t.cache.Add(id, cached)
			go t.touchAccess(id)
			return cached, nil
		}
	}

	raw, err := t.store.GetRow(ctx, t.name, id)
	if err != nil {
		return Row[R]{}, err
	}

	row, err := t.decode(raw)
	if err != nil {
		return Row[R]{}, err
	}

	row.Meta.LastAccessedAt = time.Now()
	row.Meta.AccessCount++
	if err := t.persistMeta(ctx, row); err != nil {
		log.WithTable(t.name).Warn().Err(err).Msg("failed to persist access metadata")
	}

	if t.cache != nil {
		t.cache.Add(id, row)
	}
	return row, nil
}

func (t *Table[R]) touchAccess(id string) {
	ctx := context.Background()
	raw, err := t.store.GetRow(ctx, t.name, id)
	if err != nil {
		return
	}
	raw.Meta.LastAccessedAt = time.Now()
	raw.Meta.AccessCount++
	_ = t.store.PutRow(ctx, raw)
}

func (t *Table[R]) persistMeta(ctx context.Context, row Row[R]) error {
	raw, err := t.encode(row)
	if err != nil {
		return err
	}
	return t.store.PutRow(ctx, raw)
}

// Set writes data for id with optimistic concurrency: if expectedVersion is
// non-nil and differs from the stored version, returns ErrVersionConflict.
// On success it increments version, marks the row dirty, and updates
// lastModifiedAt.
func (t *Table[R]) Set(ctx context.Context, id string, data R, expectedVersion *int64) (Row[R], error) {
	existing, err := t.store.GetRow(ctx, t.name, id)
	now := time.Now()

	var meta types.RowMeta
	if err == nil {
		meta = existing.Meta
		if expectedVersion != nil && meta.Version != *expectedVersion {
			return Row[R]{}, rerr.ErrVersionConflict
		}
	} else {
		meta = types.RowMeta{TableName: t.name, ID: id}
	}

	meta.Version++
	meta.IsDirty = true
	meta.LastModifiedAt = now
	meta.SyncStatus = types.SyncStatusPending

	row := Row[R]{Meta: meta, Data: data}
	raw, err := t.encode(row)
	if err != nil {
		return Row[R]{}, err
	}
	if err := t.store.PutRow(ctx, raw); err != nil {
		return Row[R]{}, fmt.Errorf("failed to persist row %s: %w", id, err)
	}

	if t.cache != nil {
		t.cache.Add(id, row)
	}
	t.scheduleNotify(ctx)
	return row, nil
}

// OptimisticUpdate reads the current row, applies patchFn, and writes it
// back, retrying on ErrVersionConflict up to optimisticRetryBound times
// before surfacing the error.
func (t *Table[R]) OptimisticUpdate(ctx context.Context, id string, patchFn func(current R, exists bool) R) (Row[R], error) {
	var lastErr error
	for attempt := 0; attempt < optimisticRetryBound; attempt++ {
		current, err := t.Get(ctx, id)
		exists := true
		if err != nil {
			if err != rerr.ErrRowNotFound {
				return Row[R]{}, err
			}
			exists = false
		}

		patched := patchFn(current.Data, exists)
		var expected *int64
		if exists {
			v := current.Meta.Version
			expected = &v
		}

		row, err := t.Set(ctx, id, patched, expected)
		if err == nil {
			return row, nil
		}
		if err != rerr.ErrVersionConflict {
			return Row[R]{}, err
		}
		lastErr = err
	}
	return Row[R]{}, fmt.Errorf("optimistic update exhausted retries: %w", lastErr)
}

// Delete removes the durable row and its cache entry and notifies
// subscribers. It records no tombstone and queues no delete mutation.
func (t *Table[R]) Delete(ctx context.Context, id string) error {
	if err := t.store.DeleteRow(ctx, t.name, id); err != nil {
		return fmt.Errorf("failed to delete row %s: %w", id, err)
	}
	if t.cache != nil {
		t.cache.Remove(id)
	}
	t.scheduleNotify(ctx)
	return nil
}

// GetAll enumerates every row in the table. Dirty rows are always included
// regardless of TTL expiry.
func (t *Table[R]) GetAll(ctx context.Context) ([]Row[R], error) {
	raws, err := t.store.GetAllRows(ctx, t.name, nil)
	if err != nil {
		return nil, err
	}
	rows := make([]Row[R], 0, len(raws))
	for _, raw := range raws {
		row, err := t.decode(raw)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// QueryOptions bounds a queryByField scan.
type QueryOptions struct {
	SoftLimit time.Duration // logs a warning if exceeded
	HardLimit time.Duration // aborts with ErrQueryTimeout if exceeded
}

// QueryByField uses the table's secondary index on field if one is
// registered, falling back to a full table scan otherwise.
func (t *Table[R]) QueryByField(ctx context.Context, field, value string, opts QueryOptions) ([]Row[R], error) {
	start := time.Now()
	deadline := opts.HardLimit
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	indexed := false
	for _, f := range t.reg.SecondaryIndexes {
		if f == field {
			indexed = true
			break
		}
	}

	var raws []storage.RawRow
	var err error
	if indexed {
		raws, err = t.store.QueryByIndex(ctx, t.name, field, value, storage.QueryOptions{})
	} else {
		raws, err = t.store.GetAllRows(ctx, t.name, func(r storage.RawRow) bool {
			var m map[string]any
			if jsonErr := json.Unmarshal(r.Data, &m); jsonErr != nil {
				return false
			}
			return fmt.Sprintf("%v", m[field]) == value
		})
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	if elapsed > deadline {
		return nil, rerr.ErrQueryTimeout
	}
	if opts.SoftLimit > 0 && elapsed > opts.SoftLimit {
		log.WithTable(t.name).Warn().Dur("elapsed", elapsed).Str("field", field).Msg("queryByField exceeded soft limit")
	}

	rows := make([]Row[R], 0, len(raws))
	for _, raw := range raws {
		row, err := t.decode(raw)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// BatchSet writes many rows within a single underlying transaction.
func (t *Table[R]) BatchSet(ctx context.Context, rows []Row[R]) error {
	raws := make([]storage.RawRow, 0, len(rows))
	for _, row := range rows {
		raw, err := t.encode(row)
		if err != nil {
			return err
		}
		raws = append(raws, raw)
	}
	if err := t.store.BatchPutRows(ctx, t.name, raws); err != nil {
		return fmt.Errorf("failed to batch-write %d rows: %w", len(rows), err)
	}
	if t.cache != nil {
		for _, row := range rows {
			t.cache.Add(row.Meta.ID, row)
		}
	}
	t.scheduleNotify(ctx)
	return nil
}

// BatchSetChunked splits rows into fixed-size chunks, each its own
// transaction, to avoid long stalls on large full-sync writes.
func (t *Table[R]) BatchSetChunked(ctx context.Context, rows []Row[R], chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := t.BatchSet(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a listener invoked with the full row set after any
// change, coalesced on a short timer. The returned func unsubscribes.
func (t *Table[R]) Subscribe(listener Listener[R]) func() {
	t.mu.Lock()
	id := t.nextListenerID
	t.nextListenerID++
	t.listeners[id] = listener
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Table[R]) scheduleNotify(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notifyPending {
		return
	}
	t.notifyPending = true
	t.notifyTimer = time.AfterFunc(notifyCoalesceDelay, func() {
		t.mu.Lock()
		t.notifyPending = false
		t.mu.Unlock()
		t.fireListeners(ctx)
	})
}

func (t *Table[R]) fireListeners(ctx context.Context) {
	rows, err := t.GetAll(ctx)
	if err != nil {
		log.WithTable(t.name).Warn().Err(err).Msg("failed to snapshot rows for subscribers")
		return
	}

	t.mu.Lock()
	listeners := make([]Listener[R], 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		l(rows)
	}
}

// Sync delegates to the sync engine wired via SetSyncFunc, using the
// table's own registered conflict strategy.
func (t *Table[R]) Sync(ctx context.Context, filter map[string]string) (types.SyncResult, error) {
	if t.syncFn == nil {
		return types.SyncResult{}, fmt.Errorf("table %s: no sync function wired", t.name)
	}
	return t.syncFn(ctx, filter)
}

// ResolveConflict applies the table's configured strategy via the shared
// resolver.
func (t *Table[R]) ResolveConflict(local, remote conflict.Row) conflict.Row {
	return t.resolver.Resolve(t.name, t.reg.Strategy, local, remote, t.reg.ClientAuthFields)
}

// IsExpired reports whether row should be treated as TTL-expired: it must
// be clean, the device online, and older than the table's TTL. Dirty rows
// and offline devices never expire.
func (t *Table[R]) IsExpired(row Row[R]) bool {
	if row.Meta.IsDirty {
		return false
	}
	if t.online != nil && !t.online() {
		return false
	}
	if t.reg.TTL <= 0 {
		return false
	}
	return time.Since(row.Meta.LastSyncedAt) > t.reg.TTL
}
