package prefetch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/ripple/pkg/events"
	"github.com/cuemby/ripple/pkg/prefetch"
)

// fakeEvents is a minimal events.Broker stand-in satisfying prefetch's
// subscriber interface.
type fakeEvents struct {
	ch events.Subscriber
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{ch: make(events.Subscriber, 10)}
}

func (f *fakeEvents) Subscribe() events.Subscriber        { return f.ch }
func (f *fakeEvents) Unsubscribe(sub events.Subscriber)    {}
func (f *fakeEvents) publish(ev *events.Event)             { f.ch <- ev }

func TestTrackNavigationWarmsPredictedTables(t *testing.T) {
	ev := newFakeEvents()

	var mu sync.Mutex
	var synced []string
	done := make(chan struct{}, 1)

	mgr := prefetch.New(
		map[string][]string{"/detail": {"todos"}},
		func(ctx context.Context, table string) error {
			mu.Lock()
			synced = append(synced, table)
			mu.Unlock()
			select {
			case done <- struct{}{}:
			default:
			}
			return nil
		},
		ev,
	)
	mgr.Start()
	defer mgr.Stop()

	mgr.TrackNavigation(context.Background(), "/list", "/list")
	mgr.TrackNavigation(context.Background(), "/list", "/detail")
	mgr.TrackNavigation(context.Background(), "/detail", "/list")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for prefetch sync")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, synced, "todos")
}

func TestTrackNavigationSuppressedDuringSync(t *testing.T) {
	ev := newFakeEvents()

	var called bool
	mgr := prefetch.New(
		map[string][]string{"/detail": {"todos"}},
		func(ctx context.Context, table string) error {
			called = true
			return nil
		},
		ev,
	)
	mgr.Start()
	defer mgr.Stop()

	ev.publish(&events.Event{Type: events.EventSyncStarted})
	time.Sleep(20 * time.Millisecond)

	mgr.TrackNavigation(context.Background(), "/list", "/detail")
	mgr.TrackNavigation(context.Background(), "/detail", "/list")
	time.Sleep(20 * time.Millisecond)

	require.False(t, called)
	require.True(t, mgr.IsSyncInProgress())
}
