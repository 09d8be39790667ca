package manager

import (
	"context"
	"time"

	"github.com/cuemby/ripple/pkg/storage"
)

// editProtectionWindow mirrors pkg/table's own protection window: a row
// modified more recently than this is never evicted, regardless of score.
const editProtectionWindow = 5 * time.Minute

// evictionCandidate is one clean row scored for eviction, ranked the same
// way pkg/table.Table[R].EvictionCandidates ranks rows, but computed
// directly off storage.RawRow so the manager can run it across a table
// without knowing that table's generic row type.
type evictionCandidate struct {
	id        string
	score     float64
	sizeBytes int64
}

func scoreForEviction(rows []storage.RawRow) []evictionCandidate {
	now := time.Now()
	type scored struct {
		id          string
		accessCount int64
		age         time.Duration
		sizeBytes   int64
	}
	var eligible []scored
	for _, row := range rows {
		if row.Meta.IsDirty {
			continue
		}
		if now.Sub(row.Meta.LastModifiedAt) < editProtectionWindow {
			continue
		}
		eligible = append(eligible, scored{
			id:          row.Meta.ID,
			accessCount: row.Meta.AccessCount,
			age:         now.Sub(row.Meta.LastAccessedAt),
			sizeBytes:   int64(len(row.Data)),
		})
	}
	if len(eligible) == 0 {
		return nil
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

	candidates := make([]evictionCandidate, 0, len(eligible))
	for _, e := range eligible {
		invAccess := 1.0 / float64(e.accessCount+1)
		score := 0.7*normalize(invAccess, minInv, maxInv) + 0.3*normalize(float64(e.age), float64(minAge), float64(maxAge))
		candidates = append(candidates, evictionCandidate{id: e.id, score: score, sizeBytes: e.sizeBytes})
	}

	// Stable insertion sort descending by score: highest score (least
	// recently/frequently used) evicts first. Candidate counts per table
	// are small enough that this matches the manager's other small-N sorts.
	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && candidates[j].score > candidates[j-1].score {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
			j--
		}
	}
	return candidates
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (v - min) / (max - min)
}

// evictToTarget deletes clean, eviction-eligible rows from tableName,
// highest-score first, until used drops to target or candidates run out.
// It returns the number of bytes freed.
func (m *Manager) evictToTarget(ctx context.Context, tableName string, used, target int64) (int64, error) {
	rows, err := m.store.GetAllRows(ctx, tableName, nil)
	if err != nil {
		return 0, err
	}
	candidates := scoreForEviction(rows)

	var freed int64
	for _, c := range candidates {
		if used-freed <= target {
			break
		}
		if err := m.store.DeleteRow(ctx, tableName, c.id); err != nil {
			return freed, err
		}
		freed += c.sizeBytes
	}
	return freed, nil
}
