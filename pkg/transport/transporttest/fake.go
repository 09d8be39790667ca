// Package transporttest provides an in-memory transport.Transport fake for
// unit tests of pkg/syncengine that do not need a real network round trip.
package transporttest

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/ripple/pkg/transport"
)

// Fake is a transport.Transport backed by an in-memory map, one per table.
// Rows are paged in id order; Subscribe delivers events pushed via Push.
type Fake struct {
	mu     sync.Mutex
	rows   map[string]map[string]transport.RawRow
	subs   []chan transport.PushEvent
	upserts []transport.RawRow
	deletes []string
}

func New() *Fake {
	return &Fake{rows: make(map[string]map[string]transport.RawRow)}
}

// Seed installs rows for a table as the fake's "server" state.
func (f *Fake) Seed(tableName string, rows ...transport.RawRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[tableName] == nil {
		f.rows[tableName] = make(map[string]transport.RawRow)
	}
	for _, r := range rows {
		f.rows[tableName][r.ID] = r
	}
}

func (f *Fake) FetchPage(ctx context.Context, req transport.FetchRequest) (transport.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.rows[req.TableName]))
	for id := range f.rows[req.TableName] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	start := 0
	if req.PageToken != "" {
		for i, id := range ids {
			if id > req.PageToken {
				start = i
				break
			}
		}
	}

	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}

	var resp transport.FetchResponse
	for _, id := range ids[start:end] {
		resp.Rows = append(resp.Rows, f.rows[req.TableName][id])
	}
	if end < len(ids) {
		resp.NextPageToken = ids[end-1]
	}
	return resp, nil
}

func (f *Fake) FetchIncremental(ctx context.Context, req transport.IncrementalRequest) (transport.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp transport.FetchResponse
	for _, r := range f.rows[req.TableName] {
		if r.UpdatedAtMillis > req.Since.UnixMilli() {
			resp.Rows = append(resp.Rows, r)
		}
	}
	return resp, nil
}

func (f *Fake) Count(ctx context.Context, req transport.CountRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, r := range f.rows[req.TableName] {
		if r.UpdatedAtMillis > req.Since.UnixMilli() {
			n++
		}
	}
	return n, nil
}

func (f *Fake) Upsert(ctx context.Context, tableName string, row transport.RawRow) (transport.RawRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rows[tableName] == nil {
		f.rows[tableName] = make(map[string]transport.RawRow)
	}
	f.rows[tableName][row.ID] = row
	f.upserts = append(f.upserts, row)
	return row, nil
}

func (f *Fake) Delete(ctx context.Context, tableName, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows[tableName], id)
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *Fake) Subscribe(ctx context.Context, tenantScope string) (<-chan transport.PushEvent, error) {
	ch := make(chan transport.PushEvent, 16)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, nil
}

// Push delivers a push event to every active subscriber.
func (f *Fake) Push(ev transport.PushEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Upserts returns every row passed to Upsert, in call order.
func (f *Fake) Upserts() []transport.RawRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.RawRow, len(f.upserts))
	copy(out, f.upserts)
	return out
}
