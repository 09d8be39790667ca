package prefetch

import (
	"context"
	"sync/atomic"

	"github.com/cuemby/ripple/pkg/events"
	"github.com/cuemby/ripple/pkg/log"
)

// subscriber is the event-stream slice of *manager.Manager this package
// needs to detect sync-in-progress without importing pkg/manager back.
type subscriber interface {
	Subscribe() events.Subscriber
	Unsubscribe(events.Subscriber)
}

// Manager observes page navigations, predicts likely next pages, and
// opportunistically warms the tables those pages read from. Prefetches
// never run while a real sync is in-flight, and a prefetch failure is
// logged and discarded rather than surfaced to the caller: nothing in the
// read path depends on prefetch having run.
type Manager struct {
	predictor  *Predictor
	pageTables map[string][]string
	sync       func(ctx context.Context, table string) error
	events     subscriber
	sub        events.Subscriber
	syncing    atomic.Bool
	done       chan struct{}
}

// New creates a prefetch manager. pageTables maps a page identifier to the
// table names a visit to that page reads from. sync is typically
// (*manager.Manager).SyncTable, adapted to discard its result.
func New(pageTables map[string][]string, sync func(ctx context.Context, table string) error, ev subscriber) *Manager {
	return &Manager{
		predictor:  NewPredictor(),
		pageTables: pageTables,
		sync:       sync,
		events:     ev,
		done:       make(chan struct{}),
	}
}

// Start begins watching the event stream for sync-in-progress suppression.
func (m *Manager) Start() {
	m.sub = m.events.Subscribe()
	go m.watch()
}

// Stop releases the event subscription.
func (m *Manager) Stop() {
	close(m.done)
	m.events.Unsubscribe(m.sub)
}

func (m *Manager) watch() {
	for {
		select {
		case ev, ok := <-m.sub:
			if !ok {
				return
			}
			switch ev.Type {
			case events.EventSyncStarted:
				m.syncing.Store(true)
			case events.EventSyncCompleted, events.EventSyncFailed:
				m.syncing.Store(false)
			}
		case <-m.done:
			return
		}
	}
}

// IsSyncInProgress reports whether a real sync is currently running;
// prefetch callers check this before scheduling warm-up work.
func (m *Manager) IsSyncInProgress() bool {
	return m.syncing.Load()
}

// TrackNavigation records a (from, to) transition and, if no sync is
// in-flight, opportunistically warms the tables the predicted next pages
// read from. The warm-up runs in its own goroutine: it's best-effort and
// never blocks the caller.
func (m *Manager) TrackNavigation(ctx context.Context, from, to string) {
	m.predictor.Record(from, to)

	if m.IsSyncInProgress() {
		return
	}

	predicted := m.predictor.Predict(to, 2)
	tables := make(map[string]struct{})
	for _, page := range predicted {
		for _, table := range m.pageTables[page] {
			tables[table] = struct{}{}
		}
	}
	if len(tables) == 0 {
		return
	}

	go func() {
		for table := range tables {
			if m.IsSyncInProgress() {
				return
			}
			if err := m.sync(ctx, table); err != nil {
				log.Warn("prefetch sync failed for table " + table + ": " + err.Error())
			}
		}
	}()
}
