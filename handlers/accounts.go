package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"groupwatch/models"
	"groupwatch/services/accounts"
	"groupwatch/services/sessions"
)

// AccountsHandler handles admin account management endpoints (master only).
type AccountsHandler struct {
	accounts *accounts.Service
	sessions *sessions.Service
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(accountsSvc *accounts.Service, sessionsSvc *sessions.Service) *AccountsHandler {
	return &AccountsHandler{
		accounts: accountsSvc,
		sessions: sessionsSvc,
	}
}

// CreateAccountRequest is the create account request body.
type CreateAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AccountWithSessions is an account plus its live session count, for the
// admin accounts table.
type AccountWithSessions struct {
	models.Account
	ActiveSessions int `json:"activeSessions"`
}

// List returns all admin accounts, master first.
// GET /api/admin/accounts
func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	accountsList := h.accounts.List()

	result := make([]AccountWithSessions, 0, len(accountsList))
	for _, acc := range accountsList {
		result = append(result, AccountWithSessions{
			Account:        acc,
			ActiveSessions: len(h.sessions.GetSessionsForAccount(acc.ID)),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Create adds a new admin account.
// POST /api/admin/accounts
func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.Create(req.Username, req.Password)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, accounts.ErrUsernameExists):
			status = http.StatusConflict
		case errors.Is(err, accounts.ErrUsernameRequired), errors.Is(err, accounts.ErrPasswordRequired):
			status = http.StatusBadRequest
		}
		jsonError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// Get returns a single admin account.
// GET /api/admin/accounts/{accountID}
func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]

	account, ok := h.accounts.Get(accountID)
	if !ok {
		jsonError(w, "Account not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AccountWithSessions{
		Account:        account,
		ActiveSessions: len(h.sessions.GetSessionsForAccount(account.ID)),
	})
}

// Rename changes an account's username.
// PUT /api/admin/accounts/{accountID}/username
func (h *AccountsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]

	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.accounts.Rename(accountID, req.Username); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
			status = http.StatusNotFound
		case errors.Is(err, accounts.ErrUsernameRequired):
			status = http.StatusBadRequest
		case errors.Is(err, accounts.ErrUsernameExists):
			status = http.StatusConflict
		}
		jsonError(w, err.Error(), status)
		return
	}

	account, _ := h.accounts.Get(accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// Delete removes an admin account and revokes its sessions. The master
// account and the last remaining account are protected.
// DELETE /api/admin/accounts/{accountID}
func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]

	if err := h.accounts.Delete(accountID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
			status = http.StatusNotFound
		case errors.Is(err, accounts.ErrCannotDeleteMaster), errors.Is(err, accounts.ErrCannotDeleteLastAcct):
			status = http.StatusForbidden
		}
		jsonError(w, err.Error(), status)
		return
	}

	// Revoke only after the delete went through, so a rejected delete does
	// not log the account out.
	h.sessions.RevokeAllForAccount(accountID)

	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword sets a new password for an account and forces re-login by
// revoking every session it holds.
// POST /api/admin/accounts/{accountID}/reset-password
func (h *AccountsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]

	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.accounts.UpdatePassword(accountID, req.NewPassword); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
			status = http.StatusNotFound
		case errors.Is(err, accounts.ErrPasswordRequired):
			status = http.StatusBadRequest
		}
		jsonError(w, err.Error(), status)
		return
	}

	h.sessions.RevokeAllForAccount(accountID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "password reset"})
}

// HasDefaultPassword reports whether the master account still has the
// default password, so the dashboard can nag until it is changed.
// GET /api/admin/accounts/default-password
func (h *AccountsHandler) HasDefaultPassword(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"hasDefaultPassword": h.accounts.HasDefaultPassword()})
}

// Options handles CORS preflight requests.
func (h *AccountsHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
