package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cgm-sync-service/internal/store"
)

// Entry is one raw record as returned by an upstream server, decoded but not
// yet normalized.
type Entry map[string]interface{}

// Provider adapts one kind of upstream CGM server to the sync pipeline.
type Provider interface {
	Name() string

	// Ping performs one lightweight live call against the connection's
	// upstream server. Used before a connection is persisted.
	Ping(ctx context.Context, conn *store.Connection) error

	// FetchEntries pulls up to limit recent raw records. Not every upstream
	// honours the since bound server-side; callers must re-filter by
	// absolute time.
	FetchEntries(ctx context.Context, conn *store.Connection, since time.Time, limit int) ([]Entry, error)

	// MapEntry maps one raw record to a canonical reading. ok is false when
	// the record is not a usable glucose reading.
	MapEntry(userID string, e Entry) (store.Reading, bool)
}

// TreatmentSource is implemented by providers that also expose logged
// treatment events.
type TreatmentSource interface {
	FetchTreatments(ctx context.Context, conn *store.Connection, since time.Time, limit int) ([]Entry, error)
	MapTreatment(userID string, e Entry) (store.Treatment, bool)
}

// OAuthExchanger is implemented by providers whose credentials come from an
// authorization-code exchange instead of a shared secret.
type OAuthExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*Token, error)
}

type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// HashSecret returns the lowercase hex digest stored for a shared secret.
// Computed once when the connection is saved, never re-hashed per request.
func HashSecret(secret string) string {
	sum := sha1.Sum([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func trimBaseURL(base string) string {
	return strings.TrimRight(base, "/")
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func checkResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
