package provider

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cgm-sync-service/internal/config"
	"cgm-sync-service/internal/store"
)

func dexcomConn(baseURL string) *store.Connection {
	return &store.Connection{
		UserID:      "user-1",
		Provider:    "dexcom",
		BaseURL:     baseURL,
		AccessToken: sql.NullString{String: "tok-123", Valid: true},
	}
}

func TestDexcomFetchEntries(t *testing.T) {
	since := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/users/self/egvs", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("startDate"))
		assert.Equal(t, "500", r.URL.Query().Get("maxCount"))

		w.Write([]byte(`{"records":[
			{"systemTime":"2026-08-26T08:00:00","value":142,"trend":"flat"},
			{"systemTime":"2026-08-26T08:05:00","value":138,"trend":"fortyFiveDown"}
		]}`))
	}))
	defer server.Close()

	d := NewDexcom(config.DexcomConfig{}, 5*time.Second)

	entries, err := d.FetchEntries(context.Background(), dexcomConn(server.URL), since, 500)

	require.NoError(t, err)
	require.Len(t, entries, 2)

	r, ok := d.MapEntry("user-1", entries[0])
	require.True(t, ok)
	assert.Equal(t, 142.0, r.Value)
	assert.Equal(t, "flat", r.Trend.String)
	assert.Equal(t, "dexcom", r.Source)
	// Bare system time is UTC.
	assert.True(t, r.DeviceTime.Equal(time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)))
}

func TestDexcomMapEntryDropsNonNumeric(t *testing.T) {
	d := NewDexcom(config.DexcomConfig{}, time.Second)

	_, ok := d.MapEntry("user-1", Entry{"systemTime": "2026-08-26T08:00:00", "value": "high"})
	assert.False(t, ok)

	_, ok = d.MapEntry("user-1", Entry{"value": 120.0})
	assert.False(t, ok)
}

func TestDexcomExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "auth-code", r.PostForm.Get("code"))
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "https://app.example.com/callback", r.PostForm.Get("redirect_uri"))

		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":7200}`))
	}))
	defer server.Close()

	d := NewDexcom(config.DexcomConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL,
		RedirectURI:  "https://app.example.com/callback",
	}, 5*time.Second)

	token, err := d.ExchangeCode(context.Background(), "auth-code")

	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, "rt", token.RefreshToken)
	assert.Equal(t, 7200, token.ExpiresIn)
}

func TestDexcomExchangeCodeUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	d := NewDexcom(config.DexcomConfig{TokenURL: server.URL}, 5*time.Second)

	_, err := d.ExchangeCode(context.Background(), "stale-code")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}
