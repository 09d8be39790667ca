package monitor

import (
	"fmt"

	"github.com/cuemby/ripple/pkg/events"
)

// SyncWatcher mirrors the manager's event stream into the "sync" component
// of the passive health report: a failed sync or a quota alert that never
// recovers marks the health report unhealthy, distinct from queue depth (QueueWatcher)
// since a table can sync cleanly with an empty queue while quota eviction
// is failing to keep up, or vice versa.
type SyncWatcher struct {
	mgr  subscriber
	sub  events.Subscriber
	done chan struct{}
}

// NewSyncWatcher creates a watcher over mgr's event stream.
func NewSyncWatcher(mgr subscriber) *SyncWatcher {
	return &SyncWatcher{mgr: mgr, done: make(chan struct{})}
}

// Start begins consuming events until Stop is called.
func (w *SyncWatcher) Start() {
	w.sub = w.mgr.Subscribe()
	RegisterComponent("sync", true, "nominal")
	go w.run()
}

// Stop releases the subscription and stops the watcher.
func (w *SyncWatcher) Stop() {
	close(w.done)
	w.mgr.Unsubscribe(w.sub)
}

func (w *SyncWatcher) run() {
	for {
		select {
		case ev, ok := <-w.sub:
			if !ok {
				return
			}
			w.handle(ev)
		case <-w.done:
			return
		}
	}
}

func (w *SyncWatcher) handle(ev *events.Event) {
	switch ev.Type {
	case events.EventSyncFailed:
		RegisterComponent("sync", false, fmt.Sprintf("%s: %s", ev.TableName, ev.Message))
	case events.EventQuotaAlert:
		RegisterComponent("sync", false, fmt.Sprintf("quota: %s: %s", ev.TableName, ev.Message))
	case events.EventSyncCompleted:
		RegisterComponent("sync", true, "nominal")
	}
}
