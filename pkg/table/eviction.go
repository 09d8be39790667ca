package table

import (
	"context"
	"sort"
	"time"
)

// EvictionCandidate is one clean row scored for eviction, along with an
// estimate of the bytes it occupies (JSON length, used as a fallback size
// estimator when no better byte count is available).
type EvictionCandidate struct {
	ID            string
	Score         float64
	SizeEstimate  int64
	LastAccessedAt time.Time
}

// hybridScore computes 0.7·normalized(accessCount⁻¹) + 0.3·normalized(age),
// where normalization is min-max over the candidate set: low access count
// and old last-access both push a row toward eviction first.
func hybridScore(accessCount int64, age, minAge, maxAge time.Duration, minInvAccess, maxInvAccess float64) float64 {
	invAccess := 1.0 / float64(accessCount+1)

	normInvAccess := normalize(invAccess, minInvAccess, maxInvAccess)
	normAge := normalize(float64(age), float64(minAge), float64(maxAge))

	return 0.7*normInvAccess + 0.3*normAge
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (v - min) / (max - min)
}

// EvictionCandidates returns every clean row outside the 5-minute
// edit-protection window, ranked highest-score-first (evict these first),
// with size estimated as the JSON length of the row's encoded form.
func (t *Table[R]) EvictionCandidates(ctx context.Context) ([]EvictionCandidate, error) {
	rows, err := t.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	type scored struct {
		id          string
		accessCount int64
		age         time.Duration
		sizeBytes   int64
		lastAccess  time.Time
	}
	var eligible []scored

	for _, row := range rows {
		if row.Meta.IsDirty {
			continue
		}
		if now.Sub(row.Meta.LastModifiedAt) < editProtectionWindow {
			continue
		}
		raw, err := t.encode(row)
		if err != nil {
			return nil, err
		}
		eligible = append(eligible, scored{
			id:          row.Meta.ID,
			accessCount: row.Meta.AccessCount,
			age:         now.Sub(row.Meta.LastAccessedAt),
			sizeBytes:   int64(len(raw.Data)),
			lastAccess:  row.Meta.LastAccessedAt,
		})
	}

	if len(eligible) == 0 {
		return nil, nil
	}

	minInv, maxInv := 1.0/float64(eligible[0].accessCount+1), 1.0/float64(eligible[0].accessCount+1)
	minAge, maxAge := eligible[0].age, eligible[0].age
	for _, e := range eligible[1:] {
		inv := 1.0 / float64(e.accessCount+1)
		if inv < minInv {
			minInv = inv
		}
		if inv > maxInv {
			maxInv = inv
		}
		if e.age < minAge {
			minAge = e.age
		}
		if e.age > maxAge {
			maxAge = e.age
		}
	}

	candidates := make([]EvictionCandidate, 0, len(eligible))
	for _, e := range eligible {
		score := hybridScore(e.accessCount, e.age, minAge, maxAge, minInv, maxInv)
		candidates = append(candidates, EvictionCandidate{
			ID:             e.id,
			Score:          score,
			SizeEstimate:   e.sizeBytes,
			LastAccessedAt: e.lastAccess,
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return candidates, nil
}

// EvictRow removes one row as an eviction action: it is a plain delete, not
// a dirty tombstone, since eviction only ever targets clean rows.
func (t *Table[R]) EvictRow(ctx context.Context, id string) error {
	if err := t.store.DeleteRow(ctx, t.name, id); err != nil {
		return err
	}
	if t.cache != nil {
		t.cache.Remove(id)
	}
	t.scheduleNotify(ctx)
	return nil
}
