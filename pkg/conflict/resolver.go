package conflict

import (
	"sync"
	"time"

	"github.com/cuemby/ripple/pkg/log"
	"github.com/cuemby/ripple/pkg/types"
)

// Row is the minimal shape the resolver needs from either side of a
// conflict: an id to tiebreak on, an optional server-authoritative
// timestamp, and the raw JSON payload for field-level merge.
type Row struct {
	ID string

	// UpdatedAtMillis is the server's updated_at truncated to milliseconds.
	// Nil means the row carries no comparable server timestamp (a dirty
	// local row that has never reached the server).
	UpdatedAtMillis *int64

	// UpdatedAtMicros is the sub-millisecond fractional component, present
	// only when both sides of a comparison carry it.
	UpdatedAtMicros *int64

	// LastModifiedAt is the local wall-clock write time, used as a
	// fallback comparator per the resolution of spec's missing-updated_at
	// open question (see DESIGN.md).
	LastModifiedAt time.Time

	Fields map[string]any
}

// Entry is one resolved conflict, kept for RecentConflicts.
type Entry struct {
	TableName string
	RowID     string
	Strategy  types.ConflictStrategy
	Winner    string // "local", "remote", or "merged"
	At        time.Time
}

// Resolver reconciles a local row against a remote row per a table's
// configured strategy, and keeps a bounded ring buffer of recent
// resolutions for the monitoring surface.
type Resolver struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// NewResolver returns a Resolver whose audit ring buffer holds at most cap
// entries.
func NewResolver(cap int) *Resolver {
	if cap <= 0 {
		cap = 256
	}
	return &Resolver{cap: cap}
}

// Resolve reconciles local against remote for tableName using strategy,
// returns the winning Row, and records the outcome in the audit log.
// clientAuthFields is only consulted when strategy is StrategyFieldMerge.
func (r *Resolver) Resolve(tableName string, strategy types.ConflictStrategy, local, remote Row, clientAuthFields []string) Row {
	winner, _ := r.ResolveDetailed(tableName, strategy, local, remote, clientAuthFields)
	return winner
}

// ResolveDetailed is Resolve plus the winning side ("local", "remote", or
// "merged"), for callers that must decide how to persist the outcome, such
// as whether the row remains dirty after resolution.
func (r *Resolver) ResolveDetailed(tableName string, strategy types.ConflictStrategy, local, remote Row, clientAuthFields []string) (Row, string) {
	var winner Row
	var winnerSide string

	switch strategy {
	case types.StrategyServerAuthoritative:
		winner, winnerSide = remote, "remote"
	case types.StrategyClientAuthoritative:
		winner, winnerSide = local, "local"
	case types.StrategyFieldMerge:
		winner = mergeFields(remote, local, clientAuthFields)
		winnerSide = "merged"
	default:
		winner, winnerSide = resolveLWW(local, remote)
	}

	r.record(Entry{
		TableName: tableName,
		RowID:     winner.ID,
		Strategy:  strategy,
		Winner:    winnerSide,
		At:        time.Now(),
	})

	return winner, winnerSide
}

// resolveLWW implements the three-tier comparator: integer milliseconds,
// then fractional microseconds if both sides carry them, then a lexical id
// tiebreak. Either side missing a comparable updated_at (typically a dirty
// local row that has never reached the server) has LastModifiedAt promoted
// into the comparison in its place, per the resolution of the missing-
// updated_at open question (see DESIGN.md): a dirty local write competes on
// its own wall-clock time rather than losing to the remote unconditionally.
func resolveLWW(local, remote Row) (Row, string) {
	lms, rms := local.UpdatedAtMillis, remote.UpdatedAtMillis

	if lms == nil || rms == nil {
		lt := local.LastModifiedAt
		if lms != nil {
			lt = millisToTime(*lms, local.UpdatedAtMicros)
		}
		rt := remote.LastModifiedAt
		if rms != nil {
			rt = millisToTime(*rms, remote.UpdatedAtMicros)
		}

		if lt.IsZero() && rt.IsZero() {
			log.Warn("LWW degraded to id tiebreak: neither side carries a comparable timestamp")
			return idTiebreak(local, remote)
		}
		if lt.After(rt) {
			return local, "local"
		}
		if rt.After(lt) {
			return remote, "remote"
		}
		return idTiebreak(local, remote)
	}

	if *lms != *rms {
		if *lms > *rms {
			return local, "local"
		}
		return remote, "remote"
	}

	if local.UpdatedAtMicros != nil && remote.UpdatedAtMicros != nil {
		lmu, rmu := *local.UpdatedAtMicros, *remote.UpdatedAtMicros
		if lmu != rmu {
			if lmu > rmu {
				return local, "local"
			}
			return remote, "remote"
		}
	}

	return idTiebreak(local, remote)
}

// millisToTime reconstructs a comparable instant from the wire's integer
// milliseconds plus its optional sub-millisecond fraction.
func millisToTime(ms int64, micros *int64) time.Time {
	t := time.UnixMilli(ms)
	if micros != nil {
		t = t.Add(time.Duration(*micros) * time.Microsecond)
	}
	return t
}

func idTiebreak(local, remote Row) (Row, string) {
	if local.ID <= remote.ID {
		return local, "local"
	}
	return remote, "remote"
}

// mergeFields starts from base and overwrites each name in overrideFields
// with override's value, leaving base untouched for everything else.
func mergeFields(base, override Row, overrideFields []string) Row {
	merged := base
	merged.Fields = make(map[string]any, len(base.Fields))
	for k, v := range base.Fields {
		merged.Fields[k] = v
	}
	for _, field := range overrideFields {
		if v, ok := override.Fields[field]; ok {
			merged.Fields[field] = v
		}
	}
	return merged
}

func (r *Resolver) record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

// RecentConflicts returns up to n of the most recently resolved conflicts,
// newest last.
func (r *Resolver) RecentConflicts(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]Entry, n)
	copy(out, r.entries[len(r.entries)-n:])
	return out
}
