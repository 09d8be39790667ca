package reconciler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/ripple/pkg/manager"
	"github.com/cuemby/ripple/pkg/reconciler"
	"github.com/cuemby/ripple/pkg/storage"
	"github.com/cuemby/ripple/pkg/storage/storagetest"
	"github.com/cuemby/ripple/pkg/syncengine"
	"github.com/cuemby/ripple/pkg/transport/transporttest"
	"github.com/cuemby/ripple/pkg/types"
)

func TestReconcilerStartStopDoesNotPanic(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	mgr := manager.NewManager(manager.Config{
		Store:      store,
		Transport:  transporttest.New(),
		SyncConfig: syncengine.DefaultConfig(),
	})
	t.Cleanup(mgr.Stop)

	ctx := context.Background()
	require.NoError(t, mgr.RegisterTable(ctx, types.TableRegistration{Name: "todos"}))

	require.NoError(t, store.PutRow(ctx, storage.RawRow{
		Meta: types.RowMeta{TableName: "todos", ID: "1", IsDirty: true},
		Data: []byte(`{}`),
	}))

	r := reconciler.NewReconciler(mgr)
	r.Start()
	time.Sleep(50 * time.Millisecond)
	r.Stop()
}
