package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"groupwatch/handlers"
	"groupwatch/services/accounts"
	"groupwatch/services/sessions"
)

// setupAuthHandler builds an auth handler over real services in a temp dir.
// The accounts service seeds the master account (admin/admin) on first run.
func setupAuthHandler(t *testing.T) (*handlers.AuthHandler, *accounts.Service, *sessions.Service) {
	t.Helper()
	tmpDir := t.TempDir()

	accountsSvc, err := accounts.NewService(tmpDir)
	if err != nil {
		t.Fatalf("failed to create accounts service: %v", err)
	}

	sessionsSvc, err := sessions.NewService(tmpDir, sessions.DefaultSessionDuration)
	if err != nil {
		t.Fatalf("failed to create sessions service: %v", err)
	}

	return handlers.NewAuthHandler(accountsSvc, sessionsSvc), accountsSvc, sessionsSvc
}

func doLogin(t *testing.T, handler *handlers.AuthHandler, username, password string) handlers.LoginResponse {
	t.Helper()

	body, _ := json.Marshal(handlers.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp handlers.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return resp
}

func TestLogin_Success(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	resp := doLogin(t, handler, "admin", accounts.DefaultMasterPassword)

	if resp.Token == "" {
		t.Error("expected non-empty token")
	}
	if resp.AccountID == "" {
		t.Error("expected non-empty AccountID")
	}
	if resp.Username != "admin" {
		t.Errorf("expected username 'admin', got %q", resp.Username)
	}
	if !resp.IsMaster {
		t.Error("expected IsMaster to be true")
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Errorf("expiresAt is not RFC3339: %v", err)
	}
}

func TestLogin_InvalidJSON(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	body, _ := json.Marshal(handlers.LoginRequest{Username: "admin", Password: "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestLogin_WithRememberMe(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	body, _ := json.Marshal(handlers.LoginRequest{
		Username:   "admin",
		Password:   accounts.DefaultMasterPassword,
		RememberMe: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp handlers.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	if err != nil {
		t.Fatalf("failed to parse expiry: %v", err)
	}

	// Persistent sessions outlive the default one-week lifetime by far.
	if expiresAt.Before(time.Now().Add(30 * 24 * time.Hour)) {
		t.Error("expected persistent session to have a far future expiry")
	}
}

func TestLogin_CapturesMetadata(t *testing.T) {
	handler, _, sessionsSvc := setupAuthHandler(t)

	body, _ := json.Marshal(handlers.LoginRequest{Username: "admin", Password: accounts.DefaultMasterPassword})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "TestAgent/1.0")
	req.Header.Set("X-Forwarded-For", "192.168.1.100")
	rec := httptest.NewRecorder()

	handler.Login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp handlers.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	sessionsList := sessionsSvc.GetSessionsForAccount(resp.AccountID)
	if len(sessionsList) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessionsList))
	}
	if sessionsList[0].UserAgent != "TestAgent/1.0" {
		t.Errorf("UserAgent = %q, want TestAgent/1.0", sessionsList[0].UserAgent)
	}
	if sessionsList[0].IPAddress != "192.168.1.100" {
		t.Errorf("IPAddress = %q, want 192.168.1.100", sessionsList[0].IPAddress)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	handler, _, sessionsSvc := setupAuthHandler(t)
	login := doLogin(t, handler, "admin", accounts.DefaultMasterPassword)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()

	handler.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := sessionsSvc.Validate(login.Token); err == nil {
		t.Error("expected token to be invalid after logout")
	}
}

func TestLogout_NoToken(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rec := httptest.NewRecorder()

	handler.Logout(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestLogout_UnknownTokenStillSucceeds(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer does-not-exist")
	rec := httptest.NewRecorder()

	handler.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unknown token, got %d", rec.Code)
	}
}

func TestMe_ReturnsAccount(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)
	login := doLogin(t, handler, "admin", accounts.DefaultMasterPassword)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()

	handler.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp handlers.AccountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Username != "admin" || !resp.IsMaster {
		t.Errorf("unexpected account: %+v", resp)
	}
}

func TestMe_RequiresToken(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()

	handler.Me(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()

	handler.Me(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for bogus token, got %d", rec.Code)
	}
}

func TestRefresh_ExtendsSession(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)
	login := doLogin(t, handler, "admin", accounts.DefaultMasterPassword)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp handlers.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token != login.Token {
		t.Error("refresh should keep the same token")
	}

	oldExpiry, _ := time.Parse(time.RFC3339, login.ExpiresAt)
	newExpiry, _ := time.Parse(time.RFC3339, resp.ExpiresAt)
	if newExpiry.Before(oldExpiry) {
		t.Errorf("refresh shortened the session: %v -> %v", oldExpiry, newExpiry)
	}
}

func TestRefresh_RequiresValidToken(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestChangePassword_Success(t *testing.T) {
	handler, accountsSvc, _ := setupAuthHandler(t)
	login := doLogin(t, handler, "admin", accounts.DefaultMasterPassword)

	body, _ := json.Marshal(handlers.ChangePasswordRequest{
		CurrentPassword: accounts.DefaultMasterPassword,
		NewPassword:     "much-better-password",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()

	handler.ChangePassword(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := accountsSvc.Authenticate("admin", "much-better-password"); err != nil {
		t.Errorf("new password does not authenticate: %v", err)
	}
	if _, err := accountsSvc.Authenticate("admin", accounts.DefaultMasterPassword); err == nil {
		t.Error("old password still authenticates")
	}
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)
	login := doLogin(t, handler, "admin", accounts.DefaultMasterPassword)

	body, _ := json.Marshal(handlers.ChangePasswordRequest{
		CurrentPassword: "not-the-password",
		NewPassword:     "whatever",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()

	handler.ChangePassword(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestChangePassword_RequiresSession(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	body, _ := json.Marshal(handlers.ChangePasswordRequest{
		CurrentPassword: accounts.DefaultMasterPassword,
		NewPassword:     "whatever",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ChangePassword(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}
