package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS markov_api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL
);
`

// Scopes understood by the API.
const (
	scopeAll         = "*"
	scopeMarkovRead  = "markov:read"
	scopeMarkovWrite = "markov:write"
	scopeServer      = "server:config"
	scopeAuthManage  = "auth:manage"
)

type contextKey string

const contextKeyScopes = contextKey("scopes")

// AuthAPI guards the API with hashed keys stored next to the models.
// While no key exists the API is open.
type AuthAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

// APIKey is the result of creating a key. RawKey is only ever shown once.
type APIKey struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

type createKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{db: db, logger: logger}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auth/me", a.handleMe)
	mux.HandleFunc("POST /api/auth/keys", a.handleCreateKey)
}

// CreateKey stores a new key with the given scopes. The first key ever
// created always gets the master scope so nobody can lock themselves out.
func (a *AuthAPI) CreateKey(ctx context.Context, scopes []string, description string) (APIKey, error) {
	raw, err := generateAPIKey()
	if err != nil {
		return APIKey{}, err
	}

	var keyCount int
	if err = a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM markov_api_keys").Scan(&keyCount); err != nil {
		return APIKey{}, fmt.Errorf("failed to count keys: %w", err)
	}
	if keyCount == 0 {
		scopes = []string{scopeAll}
	}
	if len(scopes) == 0 {
		return APIKey{}, errors.New("at least one scope is required")
	}

	key := APIKey{RawKey: raw, Scopes: scopes}
	err = a.db.QueryRowContext(ctx,
		`INSERT INTO markov_api_keys (key_hash, description, scopes) VALUES (?, ?, ?) RETURNING id`,
		hashAPIKey(raw), description, strings.Join(scopes, " ")).Scan(&key.ID)
	if err != nil {
		return APIKey{}, fmt.Errorf("failed to save new key: %w", err)
	}
	a.logger.InfoContext(ctx, "API key created", slog.Int("id", key.ID), slog.String("scopes", strings.Join(scopes, " ")))
	return key, nil
}

// Authenticate resolves the bearer key of a request into its scopes.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var keyCount int
		if err := a.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM markov_api_keys").Scan(&keyCount); err != nil {
			a.logger.Error("Authenticate failed to count keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if keyCount == 0 {
			next.ServeHTTP(w, withScopes(r, scopeAll))
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}
		var scopes string
		err := a.db.QueryRowContext(r.Context(), "SELECT scopes FROM markov_api_keys WHERE key_hash = ?", hashAPIKey(raw)).Scan(&scopes)
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}
		if err != nil {
			a.logger.Error("Authenticate failed to query API key", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		next.ServeHTTP(w, withScopes(r, strings.Fields(scopes)...))
	})
}

func withScopes(r *http.Request, scopes ...string) *http.Request {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return r.WithContext(context.WithValue(r.Context(), contextKeyScopes, set))
}

// hasScope checks if the request was authenticated with the required scope.
func hasScope(r *http.Request, required string) bool {
	set, ok := r.Context().Value(contextKeyScopes).(map[string]struct{})
	if !ok {
		return false
	}
	if _, master := set[scopeAll]; master {
		return true
	}
	_, has := set[required]
	return has
}

// requireScope writes a 403 and returns false when the scope is missing.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	if hasScope(r, scope) {
		return true
	}
	respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
	return false
}

func (a *AuthAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	set, _ := r.Context().Value(contextKeyScopes).(map[string]struct{})
	scopes := make([]string, 0, len(set))
	for s := range set {
		scopes = append(scopes, s)
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"scopes": scopes})
}

func (a *AuthAPI) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeAuthManage) {
		return
	}
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	key, err := a.CreateKey(r.Context(), req.Scopes, req.Description)
	if err != nil {
		a.logger.Error("Failed to create API key", "error", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, key)
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "mkc_" + hex.EncodeToString(b), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("Failed to encode JSON response", "error", err)
		}
	}
}
