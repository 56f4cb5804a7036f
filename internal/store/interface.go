package store

import (
	"context"
	"time"
)

type Store interface {
	// Connections
	ListActiveConnections(ctx context.Context, provider string) ([]*Connection, error)
	GetConnection(ctx context.Context, userID, provider string) (*Connection, error)
	SaveConnection(ctx context.Context, conn *Connection) error
	DeactivateConnection(ctx context.Context, userID, provider string) error
	RecordConnectionFailure(ctx context.Context, userID, provider string) error

	// Cursors
	GetCursor(ctx context.Context, userID, provider string) (*SyncCursor, error)
	AdvanceCursor(ctx context.Context, userID, provider string, ts time.Time) error

	// Canonical rows. Both upserts return the number of rows actually
	// inserted; rows hitting the uniqueness key are silent no-ops.
	UpsertReadings(ctx context.Context, rows []*Reading) (int64, error)
	UpsertTreatments(ctx context.Context, rows []*Treatment) (int64, error)

	// Single-run guard
	AcquireLease(ctx context.Context, provider, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, provider, owner string) error

	// Run history
	CreateSyncRun(ctx context.Context, run *SyncRun) error
	FinishSyncRun(ctx context.Context, run *SyncRun) error
	GetSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error)

	// General
	Close() error
}
