package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cgm-sync-service/internal/store"
)

// Nightscout talks to a user-hosted Nightscout instance. Authentication is
// the instance's shared secret, sent pre-hashed in the api-secret header.
type Nightscout struct {
	client *http.Client
}

func NewNightscout(timeout time.Duration) *Nightscout {
	return &Nightscout{client: newHTTPClient(timeout)}
}

func (n *Nightscout) Name() string {
	return "nightscout"
}

func (n *Nightscout) Ping(ctx context.Context, conn *store.Connection) error {
	_, err := n.get(ctx, conn, "/api/v1/status.json")
	return err
}

func (n *Nightscout) FetchEntries(ctx context.Context, conn *store.Connection, since time.Time, limit int) ([]Entry, error) {
	// Nightscout has no reliable server-side since filter on this endpoint;
	// the normalizer re-filters by absolute time.
	body, err := n.get(ctx, conn, fmt.Sprintf("/api/v1/entries.json?count=%d", limit))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}
	return entries, nil
}

func (n *Nightscout) MapEntry(userID string, e Entry) (store.Reading, bool) {
	ts, ok := EntryTime(e, "dateString", "date")
	if !ok {
		return store.Reading{}, false
	}
	sgv, ok := EntryFloat(e, "sgv")
	if !ok {
		return store.Reading{}, false
	}

	r := store.Reading{
		UserID:     userID,
		DeviceTime: ts,
		Value:      sgv,
		Source:     "nightscout",
	}
	if dir := EntryString(e, "direction"); dir != "" {
		r.Trend = sql.NullString{String: dir, Valid: true}
	}
	if dev := EntryString(e, "device"); dev != "" {
		r.Note = sql.NullString{String: dev, Valid: true}
	}
	return r, true
}

func (n *Nightscout) FetchTreatments(ctx context.Context, conn *store.Connection, since time.Time, limit int) ([]Entry, error) {
	body, err := n.get(ctx, conn, fmt.Sprintf("/api/v1/treatments.json?count=%d", limit))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode treatments: %w", err)
	}
	return entries, nil
}

func (n *Nightscout) MapTreatment(userID string, e Entry) (store.Treatment, bool) {
	id := EntryString(e, "_id")
	if id == "" {
		return store.Treatment{}, false
	}
	ts, ok := EntryTime(e, "created_at", "date")
	if !ok {
		return store.Treatment{}, false
	}

	t := store.Treatment{
		UserID:    userID,
		RecordID:  id,
		EventTime: ts,
		EventType: EntryString(e, "eventType"),
		Source:    "nightscout",
	}
	if notes := EntryString(e, "notes"); notes != "" {
		t.Notes = sql.NullString{String: notes, Valid: true}
	}
	if d, ok := EntryFloat(e, "duration"); ok {
		t.Duration = sql.NullFloat64{Float64: d, Valid: true}
	}
	if by := EntryString(e, "enteredBy"); by != "" {
		t.EnteredBy = sql.NullString{String: by, Valid: true}
	}
	return t, true
}

func (n *Nightscout) get(ctx context.Context, conn *store.Connection, path string) ([]byte, error) {
	url := trimBaseURL(conn.BaseURL) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if conn.APISecretHash.Valid {
		req.Header.Set("api-secret", conn.APISecretHash.String)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if err := checkResponse(resp, body); err != nil {
		return nil, err
	}

	return body, nil
}
