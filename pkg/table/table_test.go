package table_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/ripple/pkg/conflict"
	"github.com/cuemby/ripple/pkg/rerr"
	"github.com/cuemby/ripple/pkg/storage/storagetest"
	"github.com/cuemby/ripple/pkg/table"
	"github.com/cuemby/ripple/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type todo struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

func newTestTable(t *testing.T) *table.Table[todo] {
	t.Helper()
	store := storagetest.NewStore(t, 1<<20)
	resolver := conflict.NewResolver(16)
	reg := types.TableRegistration{Name: "todos", Strategy: types.StrategyLWW, SecondaryIndexes: []string{"status"}}
	tbl, err := table.New[todo](store, resolver, reg, func() bool { return true }, 64)
	require.NoError(t, err)
	return tbl
}

func TestSetAndGet(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	row, err := tbl.Set(ctx, "1", todo{Title: "buy milk"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Meta.Version)
	assert.True(t, row.Meta.IsDirty)

	got, err := tbl.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", got.Data.Title)
	assert.Equal(t, int64(1), got.Meta.AccessCount)
}

func TestSetVersionConflict(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	_, err := tbl.Set(ctx, "1", todo{Title: "a"}, nil)
	require.NoError(t, err)

	stale := int64(99)
	_, err = tbl.Set(ctx, "1", todo{Title: "b"}, &stale)
	assert.ErrorIs(t, err, rerr.ErrVersionConflict)
}

func TestOptimisticUpdateRetriesAndApplies(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	_, err := tbl.Set(ctx, "1", todo{Title: "a", Status: "open"}, nil)
	require.NoError(t, err)

	row, err := tbl.OptimisticUpdate(ctx, "1", func(cur todo, exists bool) todo {
		require.True(t, exists)
		cur.Status = "closed"
		return cur
	})
	require.NoError(t, err)
	assert.Equal(t, "closed", row.Data.Status)
	assert.Equal(t, int64(2), row.Meta.Version)
}

func TestDeleteRemovesRow(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	_, err := tbl.Set(ctx, "1", todo{Title: "a"}, nil)
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(ctx, "1"))

	_, err = tbl.Get(ctx, "1")
	assert.ErrorIs(t, err, rerr.ErrRowNotFound)
}

func TestQueryByFieldUsesIndex(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	_, err := tbl.Set(ctx, "1", todo{Title: "a", Status: "open"}, nil)
	require.NoError(t, err)
	_, err = tbl.Set(ctx, "2", todo{Title: "b", Status: "closed"}, nil)
	require.NoError(t, err)

	rows, err := tbl.QueryByField(ctx, "status", "open", table.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Data.Title)
}

func TestBatchSetChunkedWritesAll(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	rows := make([]table.Row[todo], 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, table.Row[todo]{
			Meta: types.RowMeta{TableName: "todos", ID: string(rune('a' + i))},
			Data: todo{Title: "x"},
		})
	}
	require.NoError(t, tbl.BatchSetChunked(ctx, rows, 3))

	all, err := tbl.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestSubscribeCoalescesNotifications(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	notified := make(chan int, 10)
	unsub := tbl.Subscribe(func(rows []table.Row[todo]) {
		notified <- len(rows)
	})
	defer unsub()

	_, err := tbl.Set(ctx, "1", todo{Title: "a"}, nil)
	require.NoError(t, err)
	_, err = tbl.Set(ctx, "2", todo{Title: "b"}, nil)
	require.NoError(t, err)

	select {
	case n := <-notified:
		assert.Equal(t, 2, n, "burst of writes coalesces into one notification of the full row set")
	case <-time.After(2 * time.Second):
		t.Fatal("listener was never notified")
	}
}

func TestIsExpiredNeverTrueForDirtyRow(t *testing.T) {
	tbl := newTestTable(t)
	row := table.Row[todo]{Meta: types.RowMeta{IsDirty: true, LastSyncedAt: time.Now().Add(-time.Hour)}}
	assert.False(t, tbl.IsExpired(row))
}

func TestEvictionCandidatesSkipDirtyAndProtectedRows(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	_, err := tbl.Set(ctx, "dirty", todo{Title: "a"}, nil)
	require.NoError(t, err)

	candidates, err := tbl.EvictionCandidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates, "recently modified dirty row must not be an eviction candidate")
}
