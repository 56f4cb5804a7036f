package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"cgm-sync-service/internal/config"
	"cgm-sync-service/internal/provider"
	"cgm-sync-service/internal/store"
	"cgm-sync-service/internal/sync"
)

// SyncRunner is the part of the orchestrator the API needs.
type SyncRunner interface {
	Run(ctx context.Context, providerName string) (*sync.Summary, error)
	Provider(name string) (provider.Provider, bool)
	GetStatus() string
}

type Handler struct {
	cfg    config.ServerConfig
	runner SyncRunner
	store  store.Store
}

func NewHandler(cfg config.ServerConfig, runner SyncRunner, st store.Store) *Handler {
	return &Handler{
		cfg:    cfg,
		runner: runner,
		store:  st,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/sync/{provider}", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/runs", h.GetSyncRuns)
		r.Post("/connections/{provider}/test", h.TestConnection)
		r.Post("/connections/{provider}/oauth", h.ConnectOAuth)
		r.Delete("/connections/{provider}", h.Disconnect)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	summary, err := h.runner.Run(r.Context(), providerName)
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrUnknownProvider):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, sync.ErrRunActive):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": h.runner.GetStatus()})
}

type syncRunResponse struct {
	ID                   string     `json:"id"`
	Provider             string     `json:"provider"`
	StartedAt            time.Time  `json:"startedAt"`
	CompletedAt          *time.Time `json:"completedAt"`
	ConnectionsProcessed int        `json:"connectionsProcessed"`
	RowsInserted         int        `json:"rowsInserted"`
	Status               string     `json:"status"`
}

func (h *Handler) GetSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	runs, err := h.store.GetSyncRuns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]syncRunResponse, 0, len(runs))
	for _, run := range runs {
		resp := syncRunResponse{
			ID:                   run.ID,
			Provider:             run.Provider,
			StartedAt:            run.StartedAt,
			ConnectionsProcessed: run.ConnectionsProcessed,
			RowsInserted:         run.RowsInserted,
			Status:               run.Status,
		}
		if run.CompletedAt.Valid {
			t := run.CompletedAt.Time
			resp.CompletedAt = &t
		}
		out = append(out, resp)
	}

	writeJSON(w, http.StatusOK, out)
}

type connectionRequest struct {
	UserID      string `json:"userId"`
	BaseURL     string `json:"baseUrl"`
	APISecret   string `json:"apiSecret"`
	AccessToken string `json:"accessToken"`
}

type connectionResponse struct {
	UserID   string `json:"userId"`
	Provider string `json:"provider"`
	BaseURL  string `json:"baseUrl"`
	Active   bool   `json:"active"`
}

// TestConnection performs one live call against the candidate upstream
// server and only persists the connection when it succeeds. The shared
// secret is hashed here, once, and stored hashed.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	p, ok := h.runner.Provider(providerName)
	if !ok {
		writeError(w, http.StatusBadRequest, sync.ErrUnknownProvider)
		return
	}

	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" || req.BaseURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId and baseUrl are required"))
		return
	}

	conn := &store.Connection{
		ID:       uuid.New().String(),
		UserID:   req.UserID,
		Provider: providerName,
		BaseURL:  req.BaseURL,
		Active:   true,
	}
	if req.APISecret != "" {
		conn.APISecretHash = sql.NullString{String: provider.HashSecret(req.APISecret), Valid: true}
	}
	if req.AccessToken != "" {
		conn.AccessToken = sql.NullString{String: req.AccessToken, Valid: true}
	}

	if err := p.Ping(r.Context(), conn); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.store.SaveConnection(r.Context(), conn); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, connectionResponse{
		UserID:   conn.UserID,
		Provider: conn.Provider,
		BaseURL:  conn.BaseURL,
		Active:   conn.Active,
	})
}

type oauthRequest struct {
	UserID  string `json:"userId"`
	BaseURL string `json:"baseUrl"`
	Code    string `json:"code"`
}

func (h *Handler) ConnectOAuth(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	p, ok := h.runner.Provider(providerName)
	if !ok {
		writeError(w, http.StatusBadRequest, sync.ErrUnknownProvider)
		return
	}
	exchanger, ok := p.(provider.OAuthExchanger)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("provider does not support oauth"))
		return
	}

	var req oauthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" || req.BaseURL == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId, baseUrl and code are required"))
		return
	}

	token, err := exchanger.ExchangeCode(r.Context(), req.Code)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conn := &store.Connection{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		Provider:     providerName,
		BaseURL:      req.BaseURL,
		AccessToken:  sql.NullString{String: token.AccessToken, Valid: true},
		RefreshToken: sql.NullString{String: token.RefreshToken, Valid: true},
		Active:       true,
	}
	if token.ExpiresIn > 0 {
		conn.TokenExpiresAt = sql.NullTime{
			Time:  time.Now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second),
			Valid: true,
		}
	}

	if err := h.store.SaveConnection(r.Context(), conn); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, connectionResponse{
		UserID:   conn.UserID,
		Provider: conn.Provider,
		BaseURL:  conn.BaseURL,
		Active:   conn.Active,
	})
}

type disconnectRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId is required"))
		return
	}

	if err := h.store.DeactivateConnection(r.Context(), req.UserID, providerName); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+h.cfg.AuthToken {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
