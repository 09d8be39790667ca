package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cuemby/ripple/pkg/rerr"
	"github.com/cuemby/ripple/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRows      = []byte("replicated_rows")
	bucketTableMeta = []byte("table_metadata")
	bucketMutations = []byte("pending_mutations")
	bucketBackup    = []byte("mutation_backup")
	bucketIndexes   = []byte("secondary_indexes")
)

// BoltStore implements Store on top of a single bbolt database file, one
// bucket per named space.
type BoltStore struct {
	db *bolt.DB

	mu       sync.RWMutex
	quota    int64
	registry map[string]types.TableRegistration
	path     string
}

// NewBoltStore opens (creating if absent) a bbolt database at path and
// prepares the four named spaces. quotaBytes is the reported storage
// ceiling returned by Quota() as its capacity figure; it does not bound
// bbolt's own file growth, and callers typically configure the manager's
// eviction soft-limit/target strictly below it.
func NewBoltStore(path string, quotaBytes int64) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRows, bucketTableMeta, bucketMutations, bucketBackup, bucketIndexes} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:       db,
		quota:    quotaBytes,
		registry: make(map[string]types.TableRegistration),
		path:     path,
	}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func rowKey(tableName, id string) []byte {
	return []byte(tableName + types.KeySeparator + id)
}

// RegisterTable records the registration (secondary index declarations are
// consulted by QueryByIndex) and is idempotent; bbolt buckets are shared
// across tables so no per-table bucket creation is needed.
func (s *BoltStore) RegisterTable(ctx context.Context, reg types.TableRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[reg.Name] = reg
	return nil
}

func (s *BoltStore) GetRow(ctx context.Context, tableName, id string) (RawRow, error) {
	var row RawRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRows)
		data := b.Get(rowKey(tableName, id))
		if data == nil {
			return rerr.ErrRowNotFound
		}
		return json.Unmarshal(data, &row)
	})
	return row, err
}

func (s *BoltStore) PutRow(ctx context.Context, row RawRow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putRowTx(tx, row)
	})
}

func (s *BoltStore) putRowTx(tx *bolt.Tx, row RawRow) error {
	b := tx.Bucket(bucketRows)

	var prev RawRow
	if existing := b.Get(rowKey(row.Meta.TableName, row.Meta.ID)); existing != nil {
		_ = json.Unmarshal(existing, &prev)
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	if err := b.Put(rowKey(row.Meta.TableName, row.Meta.ID), data); err != nil {
		return err
	}

	return s.reindexTx(tx, row, prev)
}

// reindexTx updates every declared secondary index for row's table,
// dropping prev's stale index entries first when prev carried a different
// indexed value.
func (s *BoltStore) reindexTx(tx *bolt.Tx, row, prev RawRow) error {
	s.mu.RLock()
	reg, ok := s.registry[row.Meta.TableName]
	s.mu.RUnlock()
	if !ok || len(reg.SecondaryIndexes) == 0 {
		return nil
	}

	idxBucket := tx.Bucket(bucketIndexes)
	var cur, old map[string]any
	_ = json.Unmarshal(row.Data, &cur)
	if prev.Data != nil {
		_ = json.Unmarshal(prev.Data, &old)
	}

	for _, field := range reg.SecondaryIndexes {
		if old != nil {
			if oldVal, ok := old[field]; ok {
				oldKey := indexKey(row.Meta.TableName, field, fmt.Sprintf("%v", oldVal), row.Meta.ID)
				_ = idxBucket.Delete(oldKey)
			}
		}
		if cur != nil {
			if newVal, ok := cur[field]; ok {
				newKey := indexKey(row.Meta.TableName, field, fmt.Sprintf("%v", newVal), row.Meta.ID)
				if err := idxBucket.Put(newKey, []byte(row.Meta.ID)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func indexKey(tableName, field, value, id string) []byte {
	return []byte(strings.Join([]string{tableName, field, value, id}, types.KeySeparator))
}

func (s *BoltStore) DeleteRow(ctx context.Context, tableName, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRows)
		existing := b.Get(rowKey(tableName, id))
		if existing != nil {
			var prev RawRow
			if err := json.Unmarshal(existing, &prev); err == nil {
				_ = s.reindexTx(tx, RawRow{Meta: types.RowMeta{TableName: tableName, ID: id}}, prev)
			}
		}
		return b.Delete(rowKey(tableName, id))
	})
}

func (s *BoltStore) GetAllRows(ctx context.Context, tableName string, filter func(RawRow) bool) ([]RawRow, error) {
	var rows []RawRow
	prefix := []byte(tableName + types.KeySeparator)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRows).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var row RawRow
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("failed to unmarshal row %s: %w", k, err)
			}
			if filter == nil || filter(row) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	return rows, err
}

func (s *BoltStore) QueryByIndex(ctx context.Context, tableName, field, value string, opts QueryOptions) ([]RawRow, error) {
	prefix := []byte(strings.Join([]string{tableName, field, value, ""}, types.KeySeparator))
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIndexes).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			ids = append(ids, string(v))
			if opts.Limit > 0 && len(ids) >= opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]RawRow, 0, len(ids))
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRows)
		for _, id := range ids {
			data := b.Get(rowKey(tableName, id))
			if data == nil {
				continue
			}
			var row RawRow
			if err := json.Unmarshal(data, &row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

func (s *BoltStore) BatchPutRows(ctx context.Context, tableName string, rows []RawRow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, row := range rows {
			if err := s.putRowTx(tx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetTableMeta(ctx context.Context, tableName string) (types.TableMeta, error) {
	var meta types.TableMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTableMeta).Get([]byte(tableName))
		if data == nil {
			meta = types.TableMeta{TableName: tableName}
			return nil
		}
		return json.Unmarshal(data, &meta)
	})
	return meta, err
}

func (s *BoltStore) PutTableMeta(ctx context.Context, meta types.TableMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal table metadata: %w", err)
		}
		return tx.Bucket(bucketTableMeta).Put([]byte(meta.TableName), data)
	})
}

func (s *BoltStore) PutMutation(ctx context.Context, m types.PendingMutation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal mutation: %w", err)
		}
		return tx.Bucket(bucketMutations).Put([]byte(m.ID), data)
	})
}

func (s *BoltStore) GetMutation(ctx context.Context, id string) (types.PendingMutation, error) {
	var m types.PendingMutation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMutations).Get([]byte(id))
		if data == nil {
			return rerr.ErrRowNotFound
		}
		return json.Unmarshal(data, &m)
	})
	return m, err
}

func (s *BoltStore) DeleteMutation(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMutations).Delete([]byte(id))
	})
}

func (s *BoltStore) ListMutations(ctx context.Context, tableName string) ([]types.PendingMutation, error) {
	var muts []types.PendingMutation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMutations).ForEach(func(k, v []byte) error {
			var m types.PendingMutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if tableName == "" || m.TableName == tableName {
				muts = append(muts, m)
			}
			return nil
		})
	})
	return muts, err
}

func (s *BoltStore) BackupMutation(ctx context.Context, m types.PendingMutation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal mutation backup: %w", err)
		}
		return tx.Bucket(bucketBackup).Put([]byte(m.ID), data)
	})
}

// Quota reports the on-disk database file size as the usage estimate, since
// bbolt's page allocator makes an in-memory byte count unreliable; quota is
// whatever NewBoltStore was configured with.
func (s *BoltStore) Quota(ctx context.Context) (int64, int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, s.quota, fmt.Errorf("failed to stat database file: %w", err)
	}
	return info.Size(), s.quota, nil
}
