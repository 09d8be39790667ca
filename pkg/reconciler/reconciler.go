package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ripple/pkg/log"
	"github.com/cuemby/ripple/pkg/manager"
	"github.com/cuemby/ripple/pkg/storage"
	"github.com/cuemby/ripple/pkg/types"
	"github.com/rs/zerolog"
)

// Reconciler is a background watchdog that audits the durable store's
// invariants independently of the sync path: every dirty row has a pending
// mutation backing it, every pending mutation references a row that still
// exists (unless it's a delete), and no queue entry has been stuck in
// "syncing" past a stall threshold. It repairs what it safely can and logs
// the rest, since most violations indicate a bug elsewhere rather than
// something to silently paper over.
type Reconciler struct {
	mgr    *manager.Manager
	logger zerolog.Logger
	mu     sync.RWMutex
	stopCh chan struct{}

	stallThreshold time.Duration
}

// NewReconciler creates a new reconciler for mgr.
func NewReconciler(mgr *manager.Manager) *Reconciler {
	return &Reconciler{
		mgr:            mgr,
		logger:         log.WithComponent("reconciler"),
		stopCh:         make(chan struct{}),
		stallThreshold: 10 * time.Minute,
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("invariant auditor started")

	for {
		select {
		case <-ticker.C:
			if err := r.audit(); err != nil {
				r.logger.Error().Err(err).Msg("audit cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("invariant auditor stopped")
			return
		}
	}
}

func (r *Reconciler) audit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, table := range r.mgr.TableNames() {
		if err := r.auditTable(ctx, table); err != nil {
			r.logger.Error().Err(err).Str("table", table).Msg("failed to audit table")
		}
	}
	return nil
}

func (r *Reconciler) auditTable(ctx context.Context, table string) error {
	store := r.mgr.Store()

	mutations, err := store.ListMutations(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to list mutations: %w", err)
	}

	rowIDs := make(map[string]bool, len(mutations))
	now := time.Now()
	for _, m := range mutations {
		rowIDs[m.RowID] = true

		if m.Status == types.MutationSyncing && now.Sub(m.Timestamp) > r.stallThreshold {
			r.logger.Warn().
				Str("table", table).
				Str("mutation_id", m.ID).
				Dur("stalled_for", now.Sub(m.Timestamp)).
				Msg("mutation stuck in syncing state, resetting to pending for retry")
			m.Status = types.MutationPending
			if err := store.PutMutation(ctx, m); err != nil {
				r.logger.Error().Err(err).Str("mutation_id", m.ID).Msg("failed to reset stalled mutation")
			}
		}

		if m.Operation != types.MutationDelete {
			if _, err := store.GetRow(ctx, table, m.RowID); err != nil {
				r.logger.Warn().
					Str("table", table).
					Str("mutation_id", m.ID).
					Str("row_id", m.RowID).
					Msg("pending mutation references a row that no longer exists")
			}
		}
	}

	rows, err := store.GetAllRows(ctx, table, func(row storage.RawRow) bool { return row.Meta.IsDirty })
	if err != nil {
		return fmt.Errorf("failed to scan dirty rows: %w", err)
	}
	for _, row := range rows {
		if !rowIDs[row.Meta.ID] {
			r.logger.Warn().
				Str("table", table).
				Str("row_id", row.Meta.ID).
				Msg("dirty row has no backing pending mutation")
		}
	}

	return nil
}
