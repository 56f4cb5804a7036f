package sync

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cgm-sync-service/internal/config"
	"cgm-sync-service/internal/logger"
	"cgm-sync-service/internal/provider"
	"cgm-sync-service/internal/store"
)

// Orchestrator runs synchronization passes across all active connections of
// a provider. Connections are processed sequentially; a failure on one
// connection never aborts the others.
type Orchestrator struct {
	cfg       config.SyncConfig
	store     store.Store
	providers map[string]provider.Provider
	mu        sync.Mutex
	status    string
}

func NewOrchestrator(cfg config.SyncConfig, st store.Store, providers []provider.Provider) *Orchestrator {
	m := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}

	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		providers: m,
		status:    "idle",
	}
}

func (o *Orchestrator) Provider(name string) (provider.Provider, bool) {
	p, ok := o.providers[name]
	return p, ok
}

func (o *Orchestrator) GetStatus() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setStatus(status string) {
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
}

// Run executes one pass for the named provider and reports the outcome.
// Only lease, listing or configuration errors fail the pass as a whole.
func (o *Orchestrator) Run(ctx context.Context, providerName string) (*Summary, error) {
	p, ok := o.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	start := time.Now().UTC()
	owner := uuid.New().String()

	acquired, err := o.store.AcquireLease(ctx, providerName, owner, o.cfg.GetLeaseTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lease: %w", err)
	}
	if !acquired {
		return nil, ErrRunActive
	}
	defer func() {
		if err := o.store.ReleaseLease(context.Background(), providerName, owner); err != nil {
			logger.Log.Warn("Failed to release run lease", zap.String("provider", providerName), zap.Error(err))
		}
	}()

	o.setStatus("running")
	defer o.setStatus("idle")

	conns, err := o.store.ListActiveConnections(ctx, providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	summary := &Summary{OK: true, Provider: providerName}
	if len(conns) == 0 {
		summary.ElapsedMs = time.Since(start).Milliseconds()
		return summary, nil
	}

	run := &store.SyncRun{
		ID:        uuid.New().String(),
		Provider:  providerName,
		StartedAt: start,
		Status:    "running",
	}
	if err := o.store.CreateSyncRun(ctx, run); err != nil {
		logger.Log.Warn("Failed to record sync run", zap.Error(err))
	}

	for _, conn := range conns {
		inserted, err := o.syncConnection(ctx, p, conn, start)
		summary.ConnectionsProcessed++
		if err != nil {
			logger.Log.Error("Connection sync failed",
				zap.String("provider", providerName),
				zap.String("user", conn.UserID),
				zap.Error(err),
			)
			if rerr := o.store.RecordConnectionFailure(ctx, conn.UserID, providerName); rerr != nil {
				logger.Log.Warn("Failed to record connection failure", zap.Error(rerr))
			}
			continue
		}
		summary.RowsInserted += int(inserted)
	}

	summary.ElapsedMs = time.Since(start).Milliseconds()

	run.CompletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.ConnectionsProcessed = summary.ConnectionsProcessed
	run.RowsInserted = summary.RowsInserted
	run.Status = "completed"
	if err := o.store.FinishSyncRun(ctx, run); err != nil {
		logger.Log.Warn("Failed to finish sync run record", zap.Error(err))
	}

	logger.Log.Info("Sync pass finished",
		zap.String("provider", providerName),
		zap.Int("connections", summary.ConnectionsProcessed),
		zap.Int("rows", summary.RowsInserted),
		zap.Int64("elapsedMs", summary.ElapsedMs),
	)

	return summary, nil
}

func (o *Orchestrator) syncConnection(ctx context.Context, p provider.Provider, conn *store.Connection, runStart time.Time) (int64, error) {
	since, err := o.resolveWindowStart(ctx, conn, runStart)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve pull window: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.GetUpstreamTimeout())
	entries, err := p.FetchEntries(fetchCtx, conn, since, o.cfg.BatchLimit)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("upstream fetch failed: %w", err)
	}

	rows := NormalizeReadings(entries, p, conn.UserID, since)

	var inserted int64
	if len(rows) > 0 {
		inserted, err = o.store.UpsertReadings(ctx, rows)
		if err != nil {
			return 0, fmt.Errorf("failed to persist readings: %w", err)
		}
	}

	if ts, ok := p.(provider.TreatmentSource); ok {
		n, err := o.syncTreatments(ctx, ts, conn, since)
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	// The cursor moves to the run start, not to the newest ingested row, so
	// the next window has no gap even when this pass ingested nothing.
	if err := o.store.AdvanceCursor(ctx, conn.UserID, conn.Provider, runStart); err != nil {
		return 0, fmt.Errorf("failed to advance cursor: %w", err)
	}

	logger.Log.Debug("Connection synced",
		zap.String("user", conn.UserID),
		zap.Time("since", since),
		zap.Int64("inserted", inserted),
	)

	return inserted, nil
}

func (o *Orchestrator) syncTreatments(ctx context.Context, ts provider.TreatmentSource, conn *store.Connection, since time.Time) (int64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.GetUpstreamTimeout())
	entries, err := ts.FetchTreatments(fetchCtx, conn, since, o.cfg.BatchLimit)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("upstream treatment fetch failed: %w", err)
	}

	rows := NormalizeTreatments(entries, ts, conn.UserID, since)
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := o.store.UpsertTreatments(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to persist treatments: %w", err)
	}
	return n, nil
}

func (o *Orchestrator) resolveWindowStart(ctx context.Context, conn *store.Connection, runStart time.Time) (time.Time, error) {
	cursor, err := o.store.GetCursor(ctx, conn.UserID, conn.Provider)
	if err != nil {
		return time.Time{}, err
	}
	if cursor != nil && !cursor.LastSyncedAt.IsZero() {
		return cursor.LastSyncedAt, nil
	}

	// First sync, or a lost cursor: bound the pull instead of dragging in
	// the entire upstream history.
	return runStart.Add(-o.cfg.GetFallbackLookback()), nil
}
