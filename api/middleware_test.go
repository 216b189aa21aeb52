package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"groupwatch/internal/auth"
	"groupwatch/services/sessions"
)

func newAuthedRouter(t *testing.T) (*sessions.Service, http.Handler) {
	t.Helper()
	svc, err := sessions.NewService(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create sessions service: %v", err)
	}

	handler := AccountAuthMiddleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Account", auth.GetAccountID(r))
		w.WriteHeader(http.StatusOK)
	}))
	return svc, handler
}

func TestAccountAuthMiddlewareRejectsMissingToken(t *testing.T) {
	_, handler := newAuthedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/invitations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAccountAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	_, handler := newAuthedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/invitations", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAccountAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	svc, handler := newAuthedRouter(t)

	session, err := svc.Create("acct-1", false, "test", "127.0.0.1")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/invitations", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Account"); got != "acct-1" {
		t.Fatalf("expected account acct-1 in context, got %q", got)
	}
}

func TestAccountAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	svc, handler := newAuthedRouter(t)

	session, err := svc.Create("acct-2", false, "test", "127.0.0.1")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/invitations?token="+session.Token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAccountAuthMiddlewareAllowsOptions(t *testing.T) {
	_, handler := newAuthedRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/admin/invitations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for OPTIONS, got %d", rec.Code)
	}
}

func TestMasterOnlyMiddleware(t *testing.T) {
	svc, err := sessions.NewService(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create sessions service: %v", err)
	}

	handler := AccountAuthMiddleware(svc)(MasterOnlyMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	regular, err := svc.Create("acct-1", false, "test", "127.0.0.1")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	master, err := svc.Create("master", true, "test", "127.0.0.1")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+regular.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("regular account: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+master.Token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("master account: expected 200, got %d", rec.Code)
	}
}
