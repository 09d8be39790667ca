package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ripple/pkg/manager"
	"github.com/cuemby/ripple/pkg/storage/storagetest"
	"github.com/cuemby/ripple/pkg/syncengine"
	"github.com/cuemby/ripple/pkg/transport"
	"github.com/cuemby/ripple/pkg/transport/transporttest"
	"github.com/cuemby/ripple/pkg/types"
)

func newTestManager(t *testing.T) (*manager.Manager, *transporttest.Fake) {
	t.Helper()
	store := storagetest.NewStore(t, 1<<20)
	fake := transporttest.New()
	mgr := manager.NewManager(manager.Config{
		Store:      store,
		Transport:  fake,
		SyncConfig: syncengine.DefaultConfig(),
	})
	t.Cleanup(mgr.Stop)
	return mgr, fake
}

func TestRegisterTableIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	reg := types.TableRegistration{Name: "todos", Priority: types.PriorityHigh}
	require.NoError(t, mgr.RegisterTable(ctx, reg))
	require.NoError(t, mgr.RegisterTable(ctx, reg))
}

func TestSyncAllProcessesTablesInPriorityOrder(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.RegisterTable(ctx, types.TableRegistration{Name: "low", Priority: types.PriorityLow}))
	require.NoError(t, mgr.RegisterTable(ctx, types.TableRegistration{Name: "critical", Priority: types.PriorityCritical}))

	fake.Seed("low", transport.RawRow{ID: "1", Data: []byte(`{}`)})
	fake.Seed("critical", transport.RawRow{ID: "1", Data: []byte(`{}`)})

	results, err := mgr.SyncAll(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "critical", results[0].TableName)
	assert.Equal(t, "low", results[len(results)-1].TableName)
}

func TestSyncAllHonorsGlobalKillSwitch(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.RegisterTable(ctx, types.TableRegistration{Name: "todos"}))
	mgr.Disable()

	_, err := mgr.SyncAll(ctx)
	assert.Error(t, err)
}

func TestSyncTableSkipsDisabledTable(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.RegisterTable(ctx, types.TableRegistration{Name: "todos"}))
	mgr.DisableTable("todos")

	_, err := mgr.SyncTable(ctx, "todos")
	assert.Error(t, err)
}

func TestSyncTableUnknownTableFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.SyncTable(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestTenantScopeRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.SetTenantScope("tenant-a")
	assert.Equal(t, "tenant-a", mgr.TenantScope())
}

func TestSubscribeReceivesSyncEvents(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.RegisterTable(ctx, types.TableRegistration{Name: "todos"}))
	fake.Seed("todos", transport.RawRow{ID: "1", Data: []byte(`{}`)})

	sub := mgr.Subscribe()
	defer mgr.Unsubscribe(sub)

	_, err := mgr.SyncAll(ctx)
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, "todos", ev.TableName)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sync event to be published")
	}
}

func TestCacheStatsReportsRowCounts(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.RegisterTable(ctx, types.TableRegistration{Name: "todos"}))
	fake.Seed("todos", transport.RawRow{ID: "1", Data: []byte(`{}`)}, transport.RawRow{ID: "2", Data: []byte(`{}`)})

	_, err := mgr.SyncAll(ctx)
	require.NoError(t, err)

	stats, err := mgr.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.RowsByTable["todos"])
}

func TestTrackNavigationWithoutPageTablesIsNoop(t *testing.T) {
	mgr, _ := newTestManager(t)
	// No PageTables configured: must not panic and must do nothing.
	mgr.TrackNavigation(context.Background(), "/list", "/detail")
}

func TestTrackNavigationWarmsConfiguredTable(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	fake := transporttest.New()
	mgr := manager.NewManager(manager.Config{
		Store:      store,
		Transport:  fake,
		SyncConfig: syncengine.DefaultConfig(),
		// "todos" backs the page predicted to follow "/detail".
		PageTables: map[string][]string{"/list": {"todos"}},
	})
	t.Cleanup(mgr.Stop)
	mgr.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, mgr.RegisterTable(ctx, types.TableRegistration{Name: "todos"}))
	fake.Seed("todos", transport.RawRow{ID: "1", Data: []byte(`{}`)})

	// Establish the pattern "after /detail, users go to /list" twice.
	mgr.TrackNavigation(ctx, "/detail", "/list")
	mgr.TrackNavigation(ctx, "/detail", "/list")

	// Arriving at /detail again should prefetch /list's table.
	mgr.TrackNavigation(ctx, "/list", "/detail")

	require.Eventually(t, func() bool {
		stats, err := mgr.CacheStats(ctx)
		return err == nil && stats.RowsByTable["todos"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}
