package sync

import (
	"context"
	"fmt"
	"time"

	"cgm-sync-service/internal/config"
	"cgm-sync-service/internal/provider"
	"cgm-sync-service/internal/store"
)

// fakeStore is an in-memory store.Store with the same uniqueness semantics
// as the MySQL implementation.
type fakeStore struct {
	connections []*store.Connection
	cursors     map[string]time.Time
	readings    map[string]map[int64]*store.Reading
	treatments  map[string]map[string]*store.Treatment
	failures    map[string]int
	runs        []*store.SyncRun

	leaseOwner  string
	leaseExpiry time.Time

	listErr   error
	upsertErr map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cursors:    make(map[string]time.Time),
		readings:   make(map[string]map[int64]*store.Reading),
		treatments: make(map[string]map[string]*store.Treatment),
		failures:   make(map[string]int),
		upsertErr:  make(map[string]error),
	}
}

func cursorKey(userID, provider string) string {
	return userID + "/" + provider
}

func (f *fakeStore) ListActiveConnections(ctx context.Context, providerName string) ([]*store.Connection, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*store.Connection
	for _, c := range f.connections {
		if c.Provider == providerName && c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetConnection(ctx context.Context, userID, providerName string) (*store.Connection, error) {
	for _, c := range f.connections {
		if c.UserID == userID && c.Provider == providerName {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SaveConnection(ctx context.Context, conn *store.Connection) error {
	for i, c := range f.connections {
		if c.UserID == conn.UserID && c.Provider == conn.Provider {
			f.connections[i] = conn
			return nil
		}
	}
	f.connections = append(f.connections, conn)
	return nil
}

func (f *fakeStore) DeactivateConnection(ctx context.Context, userID, providerName string) error {
	for _, c := range f.connections {
		if c.UserID == userID && c.Provider == providerName {
			c.Active = false
		}
	}
	return nil
}

func (f *fakeStore) RecordConnectionFailure(ctx context.Context, userID, providerName string) error {
	f.failures[cursorKey(userID, providerName)]++
	return nil
}

func (f *fakeStore) GetCursor(ctx context.Context, userID, providerName string) (*store.SyncCursor, error) {
	ts, ok := f.cursors[cursorKey(userID, providerName)]
	if !ok {
		return nil, nil
	}
	return &store.SyncCursor{UserID: userID, Provider: providerName, LastSyncedAt: ts}, nil
}

func (f *fakeStore) AdvanceCursor(ctx context.Context, userID, providerName string, ts time.Time) error {
	f.cursors[cursorKey(userID, providerName)] = ts
	return nil
}

func (f *fakeStore) UpsertReadings(ctx context.Context, rows []*store.Reading) (int64, error) {
	var inserted int64
	for _, r := range rows {
		if err := f.upsertErr[r.UserID]; err != nil {
			return 0, err
		}
		byTime, ok := f.readings[r.UserID]
		if !ok {
			byTime = make(map[int64]*store.Reading)
			f.readings[r.UserID] = byTime
		}
		key := r.DeviceTime.UnixMilli()
		if _, exists := byTime[key]; exists {
			continue
		}
		byTime[key] = r
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) UpsertTreatments(ctx context.Context, rows []*store.Treatment) (int64, error) {
	var inserted int64
	for _, t := range rows {
		if err := f.upsertErr[t.UserID]; err != nil {
			return 0, err
		}
		byID, ok := f.treatments[t.UserID]
		if !ok {
			byID = make(map[string]*store.Treatment)
			f.treatments[t.UserID] = byID
		}
		if _, exists := byID[t.RecordID]; exists {
			continue
		}
		byID[t.RecordID] = t
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) AcquireLease(ctx context.Context, providerName, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	if f.leaseOwner != "" && f.leaseOwner != owner && now.Before(f.leaseExpiry) {
		return false, nil
	}
	f.leaseOwner = owner
	f.leaseExpiry = now.Add(ttl)
	return true, nil
}

func (f *fakeStore) ReleaseLease(ctx context.Context, providerName, owner string) error {
	if f.leaseOwner == owner {
		f.leaseOwner = ""
	}
	return nil
}

func (f *fakeStore) CreateSyncRun(ctx context.Context, run *store.SyncRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) FinishSyncRun(ctx context.Context, run *store.SyncRun) error {
	for i, r := range f.runs {
		if r.ID == run.ID {
			f.runs[i] = run
		}
	}
	return nil
}

func (f *fakeStore) GetSyncRuns(ctx context.Context, limit, offset int) ([]*store.SyncRun, error) {
	return f.runs, nil
}

func (f *fakeStore) Close() error {
	return nil
}

func (f *fakeStore) readingCount(userID string) int {
	return len(f.readings[userID])
}

// fakeProvider serves canned Nightscout-shaped entries per user and records
// the since bound it was asked for.
type fakeProvider struct {
	name      string
	entries   map[string][]provider.Entry
	fetchErr  map[string]error
	lastSince map[string]time.Time
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		name:      "nightscout",
		entries:   make(map[string][]provider.Entry),
		fetchErr:  make(map[string]error),
		lastSince: make(map[string]time.Time),
	}
}

func (f *fakeProvider) Name() string {
	return f.name
}

func (f *fakeProvider) Ping(ctx context.Context, conn *store.Connection) error {
	return nil
}

func (f *fakeProvider) FetchEntries(ctx context.Context, conn *store.Connection, since time.Time, limit int) ([]provider.Entry, error) {
	f.lastSince[conn.UserID] = since
	if err := f.fetchErr[conn.UserID]; err != nil {
		return nil, err
	}
	return f.entries[conn.UserID], nil
}

func (f *fakeProvider) MapEntry(userID string, e provider.Entry) (store.Reading, bool) {
	ts, ok := provider.EntryTime(e, "dateString", "date")
	if !ok {
		return store.Reading{}, false
	}
	sgv, ok := provider.EntryFloat(e, "sgv")
	if !ok {
		return store.Reading{}, false
	}
	return store.Reading{UserID: userID, DeviceTime: ts, Value: sgv, Source: f.name}, true
}

// fakeTreatmentProvider also serves treatment events.
type fakeTreatmentProvider struct {
	*fakeProvider
	treatmentEntries map[string][]provider.Entry
}

func (f *fakeTreatmentProvider) FetchTreatments(ctx context.Context, conn *store.Connection, since time.Time, limit int) ([]provider.Entry, error) {
	return f.treatmentEntries[conn.UserID], nil
}

func (f *fakeTreatmentProvider) MapTreatment(userID string, e provider.Entry) (store.Treatment, bool) {
	id := provider.EntryString(e, "_id")
	if id == "" {
		return store.Treatment{}, false
	}
	ts, ok := provider.EntryTime(e, "created_at", "date")
	if !ok {
		return store.Treatment{}, false
	}
	return store.Treatment{
		UserID:    userID,
		RecordID:  id,
		EventTime: ts,
		EventType: provider.EntryString(e, "eventType"),
		Source:    f.name,
	}, true
}

func activeConnection(userID, providerName string) *store.Connection {
	return &store.Connection{
		ID:       fmt.Sprintf("conn-%s", userID),
		UserID:   userID,
		Provider: providerName,
		BaseURL:  "https://" + userID + ".example.com",
		Active:   true,
	}
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		BatchLimit:       1000,
		FallbackLookback: "336h",
		UpstreamTimeout:  "5s",
		LeaseTTL:         "1m",
	}
}
