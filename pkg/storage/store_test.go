package storage_test

import (
	"context"
	"testing"

	"github.com/cuemby/ripple/pkg/rerr"
	"github.com/cuemby/ripple/pkg/storage"
	"github.com/cuemby/ripple/pkg/storage/storagetest"
	"github.com/cuemby/ripple/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRow(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	ctx := context.Background()

	row := storage.RawRow{
		Meta: types.RowMeta{TableName: "todos", ID: "row-1", Version: 1},
		Data: []byte(`{"title":"buy milk"}`),
	}

	require.NoError(t, store.PutRow(ctx, row))

	got, err := store.GetRow(ctx, "todos", "row-1")
	require.NoError(t, err)
	assert.Equal(t, row.Data, got.Data)
	assert.Equal(t, int64(1), got.Meta.Version)
}

func TestGetRowNotFound(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	_, err := store.GetRow(context.Background(), "todos", "missing")
	assert.ErrorIs(t, err, rerr.ErrRowNotFound)
}

func TestGetAllRowsScopedToTable(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	ctx := context.Background()

	require.NoError(t, store.PutRow(ctx, storage.RawRow{Meta: types.RowMeta{TableName: "todos", ID: "1"}}))
	require.NoError(t, store.PutRow(ctx, storage.RawRow{Meta: types.RowMeta{TableName: "todos", ID: "2"}}))
	require.NoError(t, store.PutRow(ctx, storage.RawRow{Meta: types.RowMeta{TableName: "notes", ID: "1"}}))

	rows, err := store.GetAllRows(ctx, "todos", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestQueryByIndex(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	ctx := context.Background()

	require.NoError(t, store.RegisterTable(ctx, types.TableRegistration{
		Name:             "todos",
		SecondaryIndexes: []string{"status"},
	}))

	require.NoError(t, store.PutRow(ctx, storage.RawRow{
		Meta: types.RowMeta{TableName: "todos", ID: "1"},
		Data: []byte(`{"status":"open"}`),
	}))
	require.NoError(t, store.PutRow(ctx, storage.RawRow{
		Meta: types.RowMeta{TableName: "todos", ID: "2"},
		Data: []byte(`{"status":"closed"}`),
	}))
	require.NoError(t, store.PutRow(ctx, storage.RawRow{
		Meta: types.RowMeta{TableName: "todos", ID: "3"},
		Data: []byte(`{"status":"open"}`),
	}))

	rows, err := store.QueryByIndex(ctx, "todos", "status", "open", storage.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestDeleteRowRemovesIndexEntry(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	ctx := context.Background()

	require.NoError(t, store.RegisterTable(ctx, types.TableRegistration{
		Name:             "todos",
		SecondaryIndexes: []string{"status"},
	}))
	require.NoError(t, store.PutRow(ctx, storage.RawRow{
		Meta: types.RowMeta{TableName: "todos", ID: "1"},
		Data: []byte(`{"status":"open"}`),
	}))
	require.NoError(t, store.DeleteRow(ctx, "todos", "1"))

	rows, err := store.QueryByIndex(ctx, "todos", "status", "open", storage.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBatchPutRowsIsAtomic(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	ctx := context.Background()

	rows := []storage.RawRow{
		{Meta: types.RowMeta{TableName: "todos", ID: "1"}},
		{Meta: types.RowMeta{TableName: "todos", ID: "2"}},
		{Meta: types.RowMeta{TableName: "todos", ID: "3"}},
	}
	require.NoError(t, store.BatchPutRows(ctx, "todos", rows))

	got, err := store.GetAllRows(ctx, "todos", nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestTableMetaRoundTrip(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	ctx := context.Background()

	meta := types.TableMeta{TableName: "todos", ConflictCount: 2, PendingMutationCount: 1}
	require.NoError(t, store.PutTableMeta(ctx, meta))

	got, err := store.GetTableMeta(ctx, "todos")
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestTableMetaDefaultsWhenAbsent(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	got, err := store.GetTableMeta(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, "unknown", got.TableName)
}

func TestMutationQueueLifecycle(t *testing.T) {
	store := storagetest.NewStore(t, 1<<20)
	ctx := context.Background()

	m := types.PendingMutation{ID: "m1", TableName: "todos", RowID: "1", Operation: types.MutationInsert}
	require.NoError(t, store.PutMutation(ctx, m))
	require.NoError(t, store.BackupMutation(ctx, m))

	got, err := store.GetMutation(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, types.MutationInsert, got.Operation)

	muts, err := store.ListMutations(ctx, "todos")
	require.NoError(t, err)
	assert.Len(t, muts, 1)

	require.NoError(t, store.DeleteMutation(ctx, "m1"))
	muts, err = store.ListMutations(ctx, "todos")
	require.NoError(t, err)
	assert.Empty(t, muts)
}

func TestQuotaReflectsConfiguredLimit(t *testing.T) {
	store := storagetest.NewStore(t, 5*1024*1024)
	used, quota, err := store.Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5*1024*1024), quota)
	assert.GreaterOrEqual(t, used, int64(0))
}
