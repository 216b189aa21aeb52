package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"groupwatch/models"
	"groupwatch/services/accounts"
	"groupwatch/services/sessions"
)

// AuthHandler handles admin authentication endpoints. These routes are the
// only admin surface reachable without a session.
type AuthHandler struct {
	accounts *accounts.Service
	sessions *sessions.Service
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(accountsSvc *accounts.Service, sessionsSvc *sessions.Service) *AuthHandler {
	return &AuthHandler{
		accounts: accountsSvc,
		sessions: sessionsSvc,
	}
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// LoginResponse carries a fresh session token and its owner.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	AccountID string `json:"accountId"`
	Username  string `json:"username"`
	IsMaster  bool   `json:"isMaster"`
}

// AccountResponse is the public view of an admin account.
type AccountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsMaster bool   `json:"isMaster"`
}

// Login authenticates an admin account and opens a session.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.Authenticate(req.Username, req.Password)
	if err != nil {
		jsonError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	userAgent := r.Header.Get("User-Agent")
	ipAddress := getClientIPAddress(r)

	var session models.Session
	if req.RememberMe {
		session, err = h.sessions.CreatePersistent(account.ID, account.IsMaster, userAgent, ipAddress)
	} else {
		session, err = h.sessions.Create(account.ID, account.IsMaster, userAgent, ipAddress)
	}
	if err != nil {
		jsonError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
		AccountID: account.ID,
		Username:  account.Username,
		IsMaster:  account.IsMaster,
	})
}

// Logout revokes the current session. Revoking a token that already expired
// still answers OK.
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token == "" {
		jsonError(w, "No session token", http.StatusBadRequest)
		return
	}

	if err := h.sessions.Revoke(token); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		jsonError(w, "Failed to revoke session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "logged out"})
}

// Me returns the account behind the presented token.
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token == "" {
		jsonError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	session, err := h.sessions.Validate(token)
	if err != nil {
		jsonError(w, "Invalid or expired session", http.StatusUnauthorized)
		return
	}

	account, ok := h.accounts.Get(session.AccountID)
	if !ok {
		jsonError(w, "Account not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AccountResponse{
		ID:       account.ID,
		Username: account.Username,
		IsMaster: account.IsMaster,
	})
}

// Refresh extends the current session's expiry.
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token == "" {
		jsonError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	session, err := h.sessions.Refresh(token)
	if err != nil {
		jsonError(w, "Invalid or expired session", http.StatusUnauthorized)
		return
	}

	account, ok := h.accounts.Get(session.AccountID)
	if !ok {
		jsonError(w, "Account not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
		AccountID: account.ID,
		Username:  account.Username,
		IsMaster:  account.IsMaster,
	})
}

// ChangePasswordRequest is the password change request body.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword changes the calling account's password after verifying the
// current one.
// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token == "" {
		jsonError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	session, err := h.sessions.Validate(token)
	if err != nil {
		jsonError(w, "Invalid or expired session", http.StatusUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	account, ok := h.accounts.Get(session.AccountID)
	if !ok {
		jsonError(w, "Account not found", http.StatusNotFound)
		return
	}

	if _, err := h.accounts.Authenticate(account.Username, req.CurrentPassword); err != nil {
		jsonError(w, "Current password is incorrect", http.StatusUnauthorized)
		return
	}

	if err := h.accounts.UpdatePassword(session.AccountID, req.NewPassword); err != nil {
		jsonError(w, "Failed to update password", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "password changed"})
}

// Options handles CORS preflight requests.
func (h *AuthHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// extractBearerToken pulls the bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// getClientIPAddress resolves the client address for session records, looking
// through reverse-proxy headers before falling back to the socket peer.
func getClientIPAddress(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
