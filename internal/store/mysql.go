package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"cgm-sync-service/internal/config"
	"cgm-sync-service/internal/logger"
)

// upsertChunk bounds the placeholder count of one batch INSERT.
const upsertChunk = 500

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(cfg config.StateStorage) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// execTx executes a function within a transaction.
func (s *MySQLStore) execTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func (s *MySQLStore) ListActiveConnections(ctx context.Context, provider string) ([]*Connection, error) {
	query := `SELECT id, user_id, provider, base_url, api_secret_hash, access_token, refresh_token, token_expires_at, active, failure_count, created_at, updated_at
			  FROM connections WHERE provider = ? AND active = TRUE ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		var c Connection
		err := rows.Scan(
			&c.ID,
			&c.UserID,
			&c.Provider,
			&c.BaseURL,
			&c.APISecretHash,
			&c.AccessToken,
			&c.RefreshToken,
			&c.TokenExpiresAt,
			&c.Active,
			&c.FailureCount,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		conns = append(conns, &c)
	}

	return conns, rows.Err()
}

func (s *MySQLStore) GetConnection(ctx context.Context, userID, provider string) (*Connection, error) {
	query := `SELECT id, user_id, provider, base_url, api_secret_hash, access_token, refresh_token, token_expires_at, active, failure_count, created_at, updated_at
			  FROM connections WHERE user_id = ? AND provider = ?`

	row := s.db.QueryRowContext(ctx, query, userID, provider)

	var c Connection
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Provider,
		&c.BaseURL,
		&c.APISecretHash,
		&c.AccessToken,
		&c.RefreshToken,
		&c.TokenExpiresAt,
		&c.Active,
		&c.FailureCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func (s *MySQLStore) SaveConnection(ctx context.Context, conn *Connection) error {
	query := `INSERT INTO connections (id, user_id, provider, base_url, api_secret_hash, access_token, refresh_token, token_expires_at, active, failure_count, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NOW(), NOW())
			  ON DUPLICATE KEY UPDATE
			  base_url = VALUES(base_url),
			  api_secret_hash = VALUES(api_secret_hash),
			  access_token = VALUES(access_token),
			  refresh_token = VALUES(refresh_token),
			  token_expires_at = VALUES(token_expires_at),
			  active = VALUES(active),
			  failure_count = 0,
			  updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		conn.ID,
		conn.UserID,
		conn.Provider,
		conn.BaseURL,
		conn.APISecretHash,
		conn.AccessToken,
		conn.RefreshToken,
		conn.TokenExpiresAt,
		conn.Active,
	)

	return err
}

func (s *MySQLStore) DeactivateConnection(ctx context.Context, userID, provider string) error {
	query := `UPDATE connections SET active = FALSE, updated_at = NOW() WHERE user_id = ? AND provider = ?`

	_, err := s.db.ExecContext(ctx, query, userID, provider)
	return err
}

// RecordConnectionFailure bumps the failure counter for operator visibility.
// It never touches the active flag; disconnects are manual only.
func (s *MySQLStore) RecordConnectionFailure(ctx context.Context, userID, provider string) error {
	query := `UPDATE connections SET failure_count = failure_count + 1, updated_at = NOW() WHERE user_id = ? AND provider = ?`

	_, err := s.db.ExecContext(ctx, query, userID, provider)
	return err
}

func (s *MySQLStore) GetCursor(ctx context.Context, userID, provider string) (*SyncCursor, error) {
	query := `SELECT user_id, provider, last_synced_at, updated_at FROM sync_cursors WHERE user_id = ? AND provider = ?`

	row := s.db.QueryRowContext(ctx, query, userID, provider)

	var c SyncCursor
	err := row.Scan(&c.UserID, &c.Provider, &c.LastSyncedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func (s *MySQLStore) AdvanceCursor(ctx context.Context, userID, provider string, ts time.Time) error {
	query := `INSERT INTO sync_cursors (user_id, provider, last_synced_at, updated_at)
			  VALUES (?, ?, ?, NOW())
			  ON DUPLICATE KEY UPDATE
			  last_synced_at = VALUES(last_synced_at),
			  updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, userID, provider, ts)
	return err
}

func (s *MySQLStore) UpsertReadings(ctx context.Context, rows []*Reading) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var inserted int64
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(rows); start += upsertChunk {
			end := start + upsertChunk
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]

			placeholders := make([]string, 0, len(chunk))
			args := make([]interface{}, 0, len(chunk)*6)
			for _, r := range chunk {
				placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
				args = append(args, r.UserID, r.DeviceTime, r.Value, r.Trend, r.Source, r.Note)
			}

			// id = id makes a duplicate key a no-op, so RowsAffected counts
			// only rows actually inserted.
			query := `INSERT INTO readings (user_id, device_time, value, trend, source, note) VALUES ` +
				strings.Join(placeholders, ", ") +
				` ON DUPLICATE KEY UPDATE id = id`

			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

func (s *MySQLStore) UpsertTreatments(ctx context.Context, rows []*Treatment) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var inserted int64
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(rows); start += upsertChunk {
			end := start + upsertChunk
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]

			placeholders := make([]string, 0, len(chunk))
			args := make([]interface{}, 0, len(chunk)*8)
			for _, t := range chunk {
				placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?)")
				args = append(args, t.UserID, t.RecordID, t.EventTime, t.EventType, t.Notes, t.Duration, t.EnteredBy, t.Source)
			}

			query := `INSERT INTO treatments (user_id, record_id, event_time, event_type, notes, duration, entered_by, source) VALUES ` +
				strings.Join(placeholders, ", ") +
				` ON DUPLICATE KEY UPDATE id = id`

			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// AcquireLease takes the per-provider run lease. It succeeds when no lease
// row exists, the existing lease expired, or the caller already owns it.
func (s *MySQLStore) AcquireLease(ctx context.Context, provider, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	update := `UPDATE sync_leases SET owner = ?, expires_at = ? WHERE provider = ? AND (owner = ? OR expires_at < ?)`
	res, err := s.db.ExecContext(ctx, update, owner, expires, provider, owner, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	insert := `INSERT IGNORE INTO sync_leases (provider, owner, expires_at) VALUES (?, ?, ?)`
	res, err = s.db.ExecContext(ctx, insert, provider, owner, expires)
	if err != nil {
		return false, err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (s *MySQLStore) ReleaseLease(ctx context.Context, provider, owner string) error {
	query := `DELETE FROM sync_leases WHERE provider = ? AND owner = ?`

	_, err := s.db.ExecContext(ctx, query, provider, owner)
	return err
}

func (s *MySQLStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `INSERT INTO sync_runs (id, provider, started_at, connections_processed, rows_inserted, status)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Provider,
		run.StartedAt,
		run.ConnectionsProcessed,
		run.RowsInserted,
		run.Status,
	)

	return err
}

func (s *MySQLStore) FinishSyncRun(ctx context.Context, run *SyncRun) error {
	query := `UPDATE sync_runs SET completed_at = ?, connections_processed = ?, rows_inserted = ?, status = ?, error_message = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		run.CompletedAt,
		run.ConnectionsProcessed,
		run.RowsInserted,
		run.Status,
		run.ErrorMessage,
		run.ID,
	)

	return err
}

func (s *MySQLStore) GetSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error) {
	query := `SELECT id, provider, started_at, completed_at, connections_processed, rows_inserted, status, error_message
			  FROM sync_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var r SyncRun
		err := rows.Scan(
			&r.ID,
			&r.Provider,
			&r.StartedAt,
			&r.CompletedAt,
			&r.ConnectionsProcessed,
			&r.RowsInserted,
			&r.Status,
			&r.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}

	return runs, rows.Err()
}
