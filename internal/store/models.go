package store

import (
	"database/sql"
	"time"
)

// Connection links one user to an upstream CGM server. At most one
// connection exists per (user, provider); saving again replaces it.
type Connection struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	Provider       string         `db:"provider"`
	BaseURL        string         `db:"base_url"`
	APISecretHash  sql.NullString `db:"api_secret_hash"`
	AccessToken    sql.NullString `db:"access_token"`
	RefreshToken   sql.NullString `db:"refresh_token"`
	TokenExpiresAt sql.NullTime   `db:"token_expires_at"`
	Active         bool           `db:"active"`
	FailureCount   int            `db:"failure_count"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// SyncCursor is the watermark of the last successful sync for one user and
// provider. It only ever moves forward.
type SyncCursor struct {
	UserID       string    `db:"user_id"`
	Provider     string    `db:"provider"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Reading is one canonical glucose observation. (user_id, device_time) is
// unique; values are mg/dL and device_time is UTC.
type Reading struct {
	UserID     string         `db:"user_id"`
	DeviceTime time.Time      `db:"device_time"`
	Value      float64        `db:"value"`
	Trend      sql.NullString `db:"trend"`
	Source     string         `db:"source"`
	Note       sql.NullString `db:"note"`
}

// Treatment is one logged event (not a numeric reading), keyed by the
// upstream record id.
type Treatment struct {
	UserID    string          `db:"user_id"`
	RecordID  string          `db:"record_id"`
	EventTime time.Time       `db:"event_time"`
	EventType string          `db:"event_type"`
	Notes     sql.NullString  `db:"notes"`
	Duration  sql.NullFloat64 `db:"duration"`
	EnteredBy sql.NullString  `db:"entered_by"`
	Source    string          `db:"source"`
}

type SyncRun struct {
	ID                   string         `db:"id"`
	Provider             string         `db:"provider"`
	StartedAt            time.Time      `db:"started_at"`
	CompletedAt          sql.NullTime   `db:"completed_at"`
	ConnectionsProcessed int            `db:"connections_processed"`
	RowsInserted         int            `db:"rows_inserted"`
	Status               string         `db:"status"`
	ErrorMessage         sql.NullString `db:"error_message"`
}
