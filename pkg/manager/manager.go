package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ripple/pkg/broadcast"
	"github.com/cuemby/ripple/pkg/conflict"
	"github.com/cuemby/ripple/pkg/events"
	"github.com/cuemby/ripple/pkg/log"
	"github.com/cuemby/ripple/pkg/prefetch"
	"github.com/cuemby/ripple/pkg/rerr"
	"github.com/cuemby/ripple/pkg/storage"
	"github.com/cuemby/ripple/pkg/syncengine"
	"github.com/cuemby/ripple/pkg/transport"
	"github.com/cuemby/ripple/pkg/types"
)

// tableEntry bundles the bits the manager needs per registered table: its
// registration, its engine, and a disabled flag for the per-table kill
// switch.
type tableEntry struct {
	reg      types.TableRegistration
	engine   *syncengine.Engine
	disabled bool
}

// Config holds configuration for creating a Manager.
type Config struct {
	Store              storage.Store
	Transport          transport.Transport
	SyncConfig         syncengine.Config
	PeriodicInterval   time.Duration
	QuotaSoftLimit     int64
	QuotaTargetBytes   int64
	TenantScope        string
	MemoryPressureFunc syncengine.MemoryPressureFunc
	// ForcedFullSyncInterval bounds how long a table may run on incremental
	// sync alone before the next cycle forces a full sync, per table, to
	// recover from silently missed deletes or filter drift. Defaults to 24h.
	ForcedFullSyncInterval time.Duration
	// PageTables maps a page identifier to the table names a visit to that
	// page reads from. When set, the manager runs a prefetch manager that
	// warms predicted next-page tables on TrackNavigation calls. Nil
	// disables prefetching entirely.
	PageTables map[string][]string
}

// Manager is Ripple's replication manager: a registry of tables, a FIFO
// queue serializing concurrent syncAll requests, a priority-ordered
// background sync loop, and the eviction/quota control loop.
type Manager struct {
	store     storage.Store
	transport transport.Transport
	resolver  *conflict.Resolver
	broker    *events.Broker
	bcast     *broadcast.Channel
	cfg       Config

	mu          sync.Mutex
	tables      map[string]*tableEntry
	order       []string // registration order, used as priority tiebreak
	tenantScope string
	disabled    bool

	syncQueue chan struct{} // one-slot semaphore serializing syncAll

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	online   func() bool
	prefetch *prefetch.Manager

	pushWg     sync.WaitGroup
	pushCancel context.CancelFunc
}

// NewManager creates a new Manager instance.
func NewManager(cfg Config) *Manager {
	broker := events.NewBroker()
	broker.Start()

	interval := cfg.PeriodicInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	m := &Manager{
		store:       cfg.Store,
		transport:   cfg.Transport,
		resolver:    conflict.NewResolver(200),
		broker:      broker,
		bcast:       broadcast.New("ripple-replication"),
		cfg:         cfg,
		tables:      make(map[string]*tableEntry),
		tenantScope: cfg.TenantScope,
		syncQueue:   make(chan struct{}, 1),
		ticker:      time.NewTicker(interval),
		stopCh:      make(chan struct{}),
		online:      func() bool { return true },
	}

	if cfg.PageTables != nil {
		m.prefetch = prefetch.New(cfg.PageTables, func(ctx context.Context, table string) error {
			_, err := m.SyncTable(ctx, table)
			return err
		}, m)
	}

	return m
}

// RegisterTable mounts a table with the manager. Registration is idempotent:
// registering a table that is already mounted leaves its engine and state
// untouched rather than destroying it.
func (m *Manager) RegisterTable(ctx context.Context, reg types.TableRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[reg.Name]; exists {
		return nil
	}

	if err := m.store.RegisterTable(ctx, reg); err != nil {
		return fmt.Errorf("failed to register table %s: %w", reg.Name, err)
	}

	engine := syncengine.New(reg, m.store, m.transport, m.resolver, m.cfg.SyncConfig, m.cfg.MemoryPressureFunc)
	m.tables[reg.Name] = &tableEntry{reg: reg, engine: engine}
	m.order = append(m.order, reg.Name)
	return nil
}

// SetOnlineFunc overrides the manager's network-reachability probe, used by
// the background scheduler to skip sync attempts while offline and by the
// TTL sweep.
func (m *Manager) SetOnlineFunc(fn func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = fn
}

// Start begins the background scheduling loop: a periodic full syncAll when
// online, gated by the global kill switch; a real-time push subscription
// feeding resolved rows straight into the store as they arrive; and a
// periodic TTL-expiry sweep.
func (m *Manager) Start(ctx context.Context) {
	if m.prefetch != nil {
		m.prefetch.Start()
	}

	m.startPush(ctx)
	m.startTTLSweep(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ticker.C:
				if m.online() && !m.isDisabled() {
					if _, err := m.SyncAll(ctx); err != nil {
						log.Error(fmt.Sprintf("periodic sync failed: %v", err))
					}
				}
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background loop and the event broker.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.ticker.Stop()
	if m.pushCancel != nil {
		m.pushCancel()
	}
	m.pushWg.Wait()
	m.wg.Wait()
	if m.prefetch != nil {
		m.prefetch.Stop()
	}
	m.broker.Stop()
}

// startPush opens one change-notification subscription for the manager's
// tenant scope and applies every pushed row through the same resolve-then-
// write path a sync page uses, so a real-time push is visible immediately
// instead of waiting for the next periodic cycle. A subscribe failure is
// logged and leaves the manager running on periodic sync alone.
func (m *Manager) startPush(ctx context.Context) {
	if m.transport == nil {
		return
	}
	pushCtx, cancel := context.WithCancel(ctx)
	m.pushCancel = cancel

	ch, err := m.transport.Subscribe(pushCtx, m.TenantScope())
	if err != nil {
		log.Error(fmt.Sprintf("push subscription failed: %v", err))
		return
	}

	m.pushWg.Add(1)
	go func() {
		defer m.pushWg.Done()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m.applyPush(pushCtx, ev)
			case <-pushCtx.Done():
				return
			}
		}
	}()
}

// applyPush routes one pushed change into the durable store: a deletion is
// applied directly, and a row push is reconciled against the current local
// row through the table's engine (the same applyRemote/resolver logic a
// sync page runs), then broadcast to sibling tabs/processes.
func (m *Manager) applyPush(ctx context.Context, ev transport.PushEvent) {
	entry, ok := m.tableEntry(ev.TableName)
	if !ok || entry.disabled {
		return
	}

	if ev.Deleted {
		if err := m.store.DeleteRow(ctx, ev.TableName, ev.RowID); err != nil {
			log.Error(fmt.Sprintf("push delete failed for %s/%s: %v", ev.TableName, ev.RowID, err))
			return
		}
	} else {
		if err := entry.engine.ApplyPushedRow(ctx, ev.Row); err != nil {
			log.Error(fmt.Sprintf("push apply failed for %s/%s: %v", ev.TableName, ev.RowID, err))
			return
		}
	}

	m.bcast.Publish(broadcast.Message{Type: "row-change", TableName: ev.TableName, RowID: ev.RowID, Source: "push"})
}

// TrackNavigation feeds a (from, to) page transition to the prefetch
// manager, if one is configured via Config.PageTables. A no-op otherwise.
func (m *Manager) TrackNavigation(ctx context.Context, from, to string) {
	if m.prefetch != nil {
		m.prefetch.TrackNavigation(ctx, from, to)
	}
}

func (m *Manager) isDisabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

// Disable engages the global kill switch; SyncAll and per-table Sync become
// no-ops returning ErrReplicationDisabled until Enable is called.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
}

// Enable releases the global kill switch.
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = false
}

// DisableTable engages the per-table kill switch for tableName.
func (m *Manager) DisableTable(tableName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tables[tableName]; ok {
		e.disabled = true
	}
}

// EnableTable releases the per-table kill switch for tableName.
func (m *Manager) EnableTable(tableName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tables[tableName]; ok {
		e.disabled = false
	}
}

// SyncAll synchronizes every registered table in priority order (critical,
// high, medium, low; registration order breaks ties within a priority),
// uploading pending mutations before downloading remote changes for each
// table. Concurrent callers serialize through a one-slot queue rather than
// running overlapping full syncs.
func (m *Manager) SyncAll(ctx context.Context) ([]types.SyncResult, error) {
	if m.isDisabled() {
		return nil, rerr.ErrReplicationDisabled
	}

	select {
	case m.syncQueue <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.syncQueue }()

	names := m.priorityOrderedNames()

	var results []types.SyncResult
	for _, name := range names {
		entry, ok := m.tableEntry(name)
		if !ok || entry.disabled {
			continue
		}

		m.broker.Publish(&events.Event{Type: events.EventSyncStarted, TableName: name})

		uploadResult, err := entry.engine.UploadMutations(ctx)
		if err != nil {
			m.broker.Publish(&events.Event{Type: events.EventSyncFailed, TableName: name, Message: err.Error()})
		}
		results = append(results, uploadResult)

		if err := m.checkQuota(ctx, name); err != nil {
			log.Error(fmt.Sprintf("quota check failed for table %s: %v", name, err))
		}

		downloadResult, err := m.downloadSync(ctx, name, entry)
		if err != nil {
			m.broker.Publish(&events.Event{Type: events.EventSyncFailed, TableName: name, Message: err.Error()})
			results = append(results, downloadResult)
			continue
		}
		results = append(results, downloadResult)

		m.broker.Publish(&events.Event{
			Type:      events.EventSyncCompleted,
			TableName: name,
			Message:   fmt.Sprintf("%d rows synced", downloadResult.RowsSynced),
		})
		m.bcast.Publish(broadcast.Message{Type: "row-change", TableName: name, Source: "sync"})

		health, err := entry.engine.QueueHealth(ctx)
		if err == nil {
			if health.PendingCount >= types.QueueErrorThreshold {
				m.broker.Publish(&events.Event{Type: events.EventQueueSaturated, TableName: name, Message: "queue depth critical"})
			} else if health.PendingCount >= types.QueueWarnThreshold {
				m.broker.Publish(&events.Event{Type: events.EventQueueSaturated, TableName: name, Message: "queue depth elevated"})
			}
		}

		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
	}

	return results, nil
}

// SyncTable synchronizes a single table by name, honoring the per-table and
// global kill switches.
func (m *Manager) SyncTable(ctx context.Context, tableName string) (types.SyncResult, error) {
	if m.isDisabled() {
		return types.SyncResult{}, rerr.ErrReplicationDisabled
	}
	entry, ok := m.tableEntry(tableName)
	if !ok {
		return types.SyncResult{}, rerr.ErrTableNotRegistered
	}
	if entry.disabled {
		return types.SyncResult{}, rerr.ErrReplicationDisabled
	}

	if _, err := entry.engine.UploadMutations(ctx); err != nil {
		return types.SyncResult{}, err
	}
	return m.downloadSync(ctx, tableName, entry)
}

// downloadSync runs the normal incremental path, escalating to a full sync
// when the table has never completed one or its last one is older than the
// configured forced-full-sync interval. This keeps incremental sync as the
// steady-state path (bounded by IncrementalSafetyLimit) while still
// periodically recovering from anything a delta query alone could miss,
// such as a row deleted while this client was offline.
func (m *Manager) downloadSync(ctx context.Context, tableName string, entry *tableEntry) (types.SyncResult, error) {
	meta, err := m.store.GetTableMeta(ctx, tableName)
	if err != nil || meta.LastFullSyncAt.IsZero() || time.Since(meta.LastFullSyncAt) >= m.forcedFullSyncInterval() {
		return entry.engine.FullSync(ctx, nil)
	}
	return entry.engine.IncrementalSync(ctx, nil)
}

func (m *Manager) forcedFullSyncInterval() time.Duration {
	d := m.cfg.ForcedFullSyncInterval
	if d <= 0 {
		d = 24 * time.Hour
	}
	return d
}

func (m *Manager) priorityOrderedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.order))
	copy(names, m.order)

	sortByPriority(names, func(name string) types.Priority {
		return m.tables[name].reg.Priority
	})
	return names
}

func (m *Manager) tableEntry(name string) (*tableEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tables[name]
	return e, ok
}

// ttlSweepInterval bounds how often the background TTL sweep scans every
// registered table for rows that have gone clean-but-stale past their
// table's TTL.
const ttlSweepInterval = 5 * time.Minute

// startTTLSweep launches a periodic scan that deletes rows once they're
// clean, the device is online, and they've sat unsynced-but-stale longer
// than their table's TTL — the same rule pkg/table.Table.IsExpired applies
// on read, enforced here too so a row the application never happens to Get
// again still gets reclaimed.
func (m *Manager) startTTLSweep(ctx context.Context) {
	ticker := time.NewTicker(ttlSweepInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepExpired(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) sweepExpired(ctx context.Context) {
	if !m.online() {
		return
	}
	for _, name := range m.TableNames() {
		entry, ok := m.tableEntry(name)
		if !ok || entry.reg.TTL <= 0 {
			continue
		}
		rows, err := m.store.GetAllRows(ctx, name, func(row storage.RawRow) bool {
			return !row.Meta.IsDirty && time.Since(row.Meta.LastSyncedAt) > entry.reg.TTL
		})
		if err != nil {
			log.Error(fmt.Sprintf("ttl sweep failed to scan table %s: %v", name, err))
			continue
		}
		for _, row := range rows {
			if err := m.store.DeleteRow(ctx, name, row.Meta.ID); err != nil {
				log.Error(fmt.Sprintf("ttl sweep failed to delete %s/%s: %v", name, row.Meta.ID, err))
			}
		}
	}
}

// checkQuota asks the store for current usage and, if it exceeds the
// configured soft limit, requests eviction from the named table down toward
// the target, preserving dirty rows. Callers that cannot reach the target
// (e.g. because every remaining row is dirty) proceed with an alert rather
// than blocking the sync.
func (m *Manager) checkQuota(ctx context.Context, tableName string) error {
	used, quota, err := m.store.Quota(ctx)
	if err != nil {
		return err
	}
	soft := m.cfg.QuotaSoftLimit
	if soft <= 0 {
		soft = quota
	}
	if used <= soft {
		return nil
	}

	target := m.cfg.QuotaTargetBytes
	if target <= 0 {
		target = soft
	}
	freed, err := m.evictToTarget(ctx, tableName, used, target)
	if err != nil {
		return err
	}

	if used-freed > target {
		m.broker.Publish(&events.Event{
			Type:      events.EventQuotaAlert,
			TableName: tableName,
			Message:   fmt.Sprintf("usage %d bytes exceeds target %d bytes after evicting %d bytes from %s; no further clean rows available", used, target, freed, tableName),
		})
	}
	return nil
}

// SetTenantScope switches the active tenant scope, flushing every table's
// clean cached rows since they belong to the previous scope. Dirty rows are
// preserved: an unsynced local write isn't scoped to a tenant the way a
// read-through cache entry is.
func (m *Manager) SetTenantScope(scope string) {
	m.mu.Lock()
	m.tenantScope = scope
	m.mu.Unlock()

	if err := m.ClearAllCaches(context.Background()); err != nil {
		log.Error(fmt.Sprintf("failed to clear caches after tenant scope change: %v", err))
	}
}

// ClearAllCaches discards every clean (non-dirty) row across all registered
// tables. Dirty rows are preserved, since they represent a local write that
// has not yet reached the server.
func (m *Manager) ClearAllCaches(ctx context.Context) error {
	for _, name := range m.TableNames() {
		rows, err := m.store.GetAllRows(ctx, name, func(row storage.RawRow) bool { return !row.Meta.IsDirty })
		if err != nil {
			return fmt.Errorf("failed to enumerate rows for table %s: %w", name, err)
		}
		for _, row := range rows {
			if err := m.store.DeleteRow(ctx, name, row.Meta.ID); err != nil {
				return fmt.Errorf("failed to clear row %s/%s: %w", name, row.Meta.ID, err)
			}
		}
	}
	return nil
}

// RefreshTable forces a full sync for tableName regardless of the forced-
// full-sync interval downloadSync would otherwise apply, for callers that
// need the latest server state immediately (e.g. after reconnecting, or an
// explicit user-triggered refresh).
func (m *Manager) RefreshTable(ctx context.Context, tableName string) (types.SyncResult, error) {
	if m.isDisabled() {
		return types.SyncResult{}, rerr.ErrReplicationDisabled
	}
	entry, ok := m.tableEntry(tableName)
	if !ok {
		return types.SyncResult{}, rerr.ErrTableNotRegistered
	}
	if entry.disabled {
		return types.SyncResult{}, rerr.ErrReplicationDisabled
	}
	return entry.engine.FullSync(ctx, nil)
}

// RefreshAll forces a full sync across every registered table, in the same
// priority order SyncAll uses.
func (m *Manager) RefreshAll(ctx context.Context) ([]types.SyncResult, error) {
	if m.isDisabled() {
		return nil, rerr.ErrReplicationDisabled
	}

	var results []types.SyncResult
	for _, name := range m.priorityOrderedNames() {
		entry, ok := m.tableEntry(name)
		if !ok || entry.disabled {
			continue
		}
		result, err := entry.engine.FullSync(ctx, nil)
		if err != nil {
			m.broker.Publish(&events.Event{Type: events.EventSyncFailed, TableName: name, Message: err.Error()})
		}
		results = append(results, result)
	}
	return results, nil
}

// EvictLRU fans eviction out across every registered table using each
// table's hybrid recency/frequency scorer, highest-score (coldest) rows first within
// each table, until total store usage reaches targetBytes or no further
// clean, eviction-eligible row remains anywhere.
func (m *Manager) EvictLRU(ctx context.Context, targetBytes int64) error {
	used, _, err := m.store.Quota(ctx)
	if err != nil {
		return err
	}

	for _, name := range m.TableNames() {
		if used <= targetBytes {
			return nil
		}
		freed, err := m.evictToTarget(ctx, name, used, targetBytes)
		if err != nil {
			return err
		}
		used -= freed
	}
	return nil
}

// TableNames returns every registered table name in registration order.
func (m *Manager) TableNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Store exposes the durable store for components, such as the invariant
// auditor, that need direct read access across tables.
func (m *Manager) Store() storage.Store {
	return m.store
}

// TenantScope returns the active tenant scope.
func (m *Manager) TenantScope() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenantScope
}

// Subscribe returns a channel of replication lifecycle events.
func (m *Manager) Subscribe() events.Subscriber {
	return m.broker.Subscribe()
}

// Unsubscribe releases a subscription returned by Subscribe.
func (m *Manager) Unsubscribe(sub events.Subscriber) {
	m.broker.Unsubscribe(sub)
}

// CacheStats reports aggregate usage across every registered table.
func (m *Manager) CacheStats(ctx context.Context) (types.CacheStats, error) {
	used, quota, err := m.store.Quota(ctx)
	if err != nil {
		return types.CacheStats{}, err
	}

	stats := types.CacheStats{UsedBytes: used, QuotaBytes: quota, RowsByTable: make(map[string]int64)}

	m.mu.Lock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.Unlock()

	for _, name := range names {
		rows, err := m.store.GetAllRows(ctx, name, nil)
		if err != nil {
			continue
		}
		stats.RowsByTable[name] = int64(len(rows))
	}
	return stats, nil
}

// Close stops the manager and releases the underlying store.
func (m *Manager) Close() error {
	m.Stop()
	return m.store.Close()
}
