package monitor

import (
	"fmt"

	"github.com/cuemby/ripple/pkg/events"
)

// subscriber is the slice of *manager.Manager this package actually needs,
// kept narrow so monitor doesn't import manager (cmd/ripple wires the
// watchers to the manager at startup).
type subscriber interface {
	Subscribe() events.Subscriber
	Unsubscribe(events.Subscriber)
}

// QueueWatcher mirrors the manager's event stream into the "queue"
// component of the passive health report: a saturated queue marks the
// health report unhealthy, and the next clean sync cycle clears it.
type QueueWatcher struct {
	mgr  subscriber
	sub  events.Subscriber
	done chan struct{}
}

// NewQueueWatcher creates a watcher over mgr's event stream.
func NewQueueWatcher(mgr subscriber) *QueueWatcher {
	return &QueueWatcher{mgr: mgr, done: make(chan struct{})}
}

// Start begins consuming events until Stop is called.
func (w *QueueWatcher) Start() {
	w.sub = w.mgr.Subscribe()
	RegisterComponent("queue", true, "nominal")
	go w.run()
}

// Stop releases the subscription and stops the watcher.
func (w *QueueWatcher) Stop() {
	close(w.done)
	w.mgr.Unsubscribe(w.sub)
}

func (w *QueueWatcher) run() {
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

func (w *QueueWatcher) handle(ev *events.Event) {
	switch ev.Type {
	case events.EventQueueSaturated:
		RegisterComponent("queue", false, fmt.Sprintf("%s: %s", ev.TableName, ev.Message))
	case events.EventSyncCompleted:
		RegisterComponent("queue", true, "nominal")
	}
}
