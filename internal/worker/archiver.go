package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
	"github.com/profile-ledger/internal/kv"
	"github.com/profile-ledger/internal/leaderboard"
	"github.com/profile-ledger/internal/postgres"
)

// anomalyQueueKey mirrors the queue the ledger pushes clamp events into
const anomalyQueueKey = "anticheat:queue"

// Archiver periodically copies derived state out of the key-value store
// into the durable archive: season leaderboard snapshots and buffered
// anti-cheat anomaly events. Losing a cycle is harmless; everything it
// writes is recomputed or re-drained on the next one.
type Archiver struct {
	kv      *kv.Store
	boards  *leaderboard.Store
	repo    *postgres.Repository
	config  *config.ArchiveConfig
	clock   domain.Clock
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewArchiver creates an archive worker
func NewArchiver(
	store *kv.Store,
	boards *leaderboard.Store,
	repo *postgres.Repository,
	cfg *config.ArchiveConfig,
	clock domain.Clock,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		kv:     store,
		boards: boards,
		repo:   repo,
		config: cfg,
		clock:  clock,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background archive process
func (w *Archiver) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("archive worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background archive process
func (w *Archiver) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("archive worker stopped")
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *Archiver) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single archive cycle, useful for manual triggers
func (w *Archiver) RunOnce(ctx context.Context) {
	w.cycle(ctx)
}

func (w *Archiver) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

// cycle exports the current and previous season snapshots and drains the
// anomaly queue
func (w *Archiver) cycle(ctx context.Context) {
	start := time.Now()
	now := w.clock.Now()

	exported := 0
	for _, season := range []string{
		domain.SeasonTag(now),
		domain.SeasonTag(now.AddDate(0, -1, 0)),
	} {
		n, err := w.exportSeason(ctx, season)
		if err != nil {
			w.logger.Error("failed to export season snapshot", "season", season, "error", err)
			continue
		}
		exported += n
	}

	drained, err := w.drainAnomalies(ctx)
	if err != nil {
		w.logger.Error("failed to drain anomaly queue", "error", err)
	}

	w.logger.Info("archive cycle completed",
		"duration", time.Since(start),
		"snapshot_rows", exported,
		"anomalies", drained,
	)
}

// exportSeason copies one season's rank index into the archive. Upserts
// keep repeat exports idempotent.
func (w *Archiver) exportSeason(ctx context.Context, season string) (int, error) {
	entries, err := w.boards.SnapshotExport(ctx, season)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	batchSize := w.config.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := w.repo.SaveSnapshot(ctx, entries[start:end]); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// drainAnomalies moves buffered clamp events into the archive. Undecodable
// entries are dropped with a warning.
func (w *Archiver) drainAnomalies(ctx context.Context) (int, error) {
	total := 0
	for {
		vals, err := w.kv.RPopCount(ctx, anomalyQueueKey, w.config.BatchSize)
		if err != nil {
			return total, err
		}
		if len(vals) == 0 {
			return total, nil
		}

		records := make([]domain.AnomalyRecord, 0, len(vals))
		for _, v := range vals {
			var rec domain.AnomalyRecord
			if err := json.Unmarshal([]byte(v), &rec); err != nil {
				w.logger.Warn("dropping undecodable anomaly event", "error", err)
				continue
			}
			records = append(records, rec)
		}
		if err := w.repo.RecordAnomalies(ctx, records); err != nil {
			return total, err
		}
		total += len(records)
	}
}
