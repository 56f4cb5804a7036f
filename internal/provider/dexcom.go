package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cgm-sync-service/internal/config"
	"cgm-sync-service/internal/store"
)

// Dexcom talks to the Dexcom cloud API using a bearer token obtained through
// the OAuth authorization-code flow.
type Dexcom struct {
	client *http.Client
	cfg    config.DexcomConfig
}

func NewDexcom(cfg config.DexcomConfig, timeout time.Duration) *Dexcom {
	return &Dexcom{client: newHTTPClient(timeout), cfg: cfg}
}

func (d *Dexcom) Name() string {
	return "dexcom"
}

func (d *Dexcom) Ping(ctx context.Context, conn *store.Connection) error {
	_, err := d.get(ctx, conn, "/v3/users/self/dataRange")
	return err
}

func (d *Dexcom) FetchEntries(ctx context.Context, conn *store.Connection, since time.Time, limit int) ([]Entry, error) {
	path := fmt.Sprintf("/v3/users/self/egvs?startDate=%s&maxCount=%d",
		url.QueryEscape(since.UTC().Format(time.RFC3339)), limit)

	body, err := d.get(ctx, conn, path)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Records []Entry `json:"records"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode egvs: %w", err)
	}
	return envelope.Records, nil
}

func (d *Dexcom) MapEntry(userID string, e Entry) (store.Reading, bool) {
	ts, ok := EntryTime(e, "systemTime", "date")
	if !ok {
		return store.Reading{}, false
	}
	value, ok := EntryFloat(e, "value")
	if !ok {
		return store.Reading{}, false
	}

	r := store.Reading{
		UserID:     userID,
		DeviceTime: ts,
		Value:      value,
		Source:     "dexcom",
	}
	if trend := EntryString(e, "trend"); trend != "" {
		r.Trend = sql.NullString{String: trend, Valid: true}
	}
	return r, true
}

// ExchangeCode trades an authorization code for access and refresh tokens at
// the configured token endpoint.
func (d *Dexcom) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	form := url.Values{}
	form.Set("client_id", d.cfg.ClientID)
	form.Set("client_secret", d.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", d.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if err := checkResponse(resp, body); err != nil {
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &token, nil
}

func (d *Dexcom) get(ctx context.Context, conn *store.Connection, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimBaseURL(conn.BaseURL)+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if conn.AccessToken.Valid {
		req.Header.Set("Authorization", "Bearer "+conn.AccessToken.String)
	}

	resp, err := d.client.Do(req)
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
