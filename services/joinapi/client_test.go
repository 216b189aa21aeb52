package joinapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"groupwatch/models"
)

func TestInvitation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invitations/abc234" {
			t.Errorf("expected path /invitations/abc234, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code":      "abc234",
			"groupName": "Movie Night",
			"enabled":   true,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	inv, err := client.Invitation("abc234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.GroupName != "Movie Night" {
		t.Errorf("expected group Movie Night, got %s", inv.GroupName)
	}
	if !inv.Enabled {
		t.Error("expected enabled invitation")
	}
}

func TestInvitationNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "invitation not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Invitation("zzzzzz")
	if err == nil {
		t.Fatal("expected error on 404, got nil")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound to match, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Message != "invitation not found" {
		t.Errorf("expected server message, got %q", apiErr.Message)
	}
}

func TestStatus(t *testing.T) {
	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invitations/abc234/status" {
			t.Errorf("expected status path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("email") != "ada@example.com" {
			t.Errorf("expected email query, got %s", r.URL.Query().Get("email"))
		}
		if r.URL.Query().Get("username") != "ada" {
			t.Errorf("expected username query, got %s", r.URL.Query().Get("username"))
		}
		json.NewEncoder(w).Encode(models.JoinRequestStatus{
			Status:         models.RequestAccepted,
			OAuthLink:      ptr("https://link.stremio.com/#?code=lnk"),
			OAuthCode:      ptr("lnk"),
			OAuthExpiresAt: &expires,
			GroupName:      "Movie Night",
			Email:          "ada@example.com",
			Username:       "ada",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	status, err := client.Status("abc234", "ada@example.com", "ada")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != models.RequestAccepted {
		t.Errorf("expected accepted, got %s", status.Status)
	}
	if status.OAuthCode == nil || *status.OAuthCode != "lnk" {
		t.Errorf("expected oauth code lnk, got %v", status.OAuthCode)
	}
	if status.OAuthExpiresAt == nil || !status.OAuthExpiresAt.Equal(expires) {
		t.Errorf("expected expiry %v, got %v", expires, status.OAuthExpiresAt)
	}
}

func TestStatusClearedLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.JoinRequestStatus{Status: models.RequestAccepted})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	status, err := client.Status("abc234", "ada@example.com", "ada")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.OAuthLink != nil {
		t.Errorf("expected nil link after clearing, got %v", *status.OAuthLink)
	}
}

func TestSubmitConflictDiscriminator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ada@example.com" || body["username"] != "ada" {
			t.Errorf("unexpected submit body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "a request for this email is already on file",
			"code":  CodeRequestExists,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	err := client.Submit("abc234", "ada@example.com", "ada")
	if err == nil {
		t.Fatal("expected conflict error, got nil")
	}
	if ErrorCode(err) != CodeRequestExists {
		t.Errorf("expected code %s, got %s", CodeRequestExists, ErrorCode(err))
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 APIError, got %v", err)
	}
}

func TestGenerateLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invitations/abc234/oauth" {
			t.Errorf("expected oauth path, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(models.JoinRequestStatus{
			Status:    models.RequestAccepted,
			OAuthLink: ptr("https://link.stremio.com/#?code=fresh"),
			OAuthCode: ptr("fresh"),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	status, err := client.GenerateLink("abc234", "ada@example.com", "ada")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.OAuthCode == nil || *status.OAuthCode != "fresh" {
		t.Errorf("expected fresh oauth code, got %v", status.OAuthCode)
	}
}

func TestCompleteEmailMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invitations/abc234/complete" {
			t.Errorf("expected complete path, got %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["authKey"] != "auth-key-1" {
			t.Errorf("expected auth key in body, got %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "authorized account email does not match the request",
			"code":  CodeEmailMismatch,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	err := client.Complete("abc234", "ada@example.com", "ada", "auth-key-1", "Movie Night")
	if err == nil {
		t.Fatal("expected mismatch error, got nil")
	}
	if ErrorCode(err) != CodeEmailMismatch {
		t.Errorf("expected code %s, got %s", CodeEmailMismatch, ErrorCode(err))
	}
}

func TestCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	if err := client.Complete("abc234", "ada@example.com", "ada", "auth-key-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestErrorWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Status("abc234", "ada@example.com", "ada")
	if err == nil {
		t.Fatal("expected error on 502, got nil")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", apiErr.StatusCode)
	}
	if apiErr.Code != "" {
		t.Errorf("expected no discriminator, got %s", apiErr.Code)
	}
}

func ptr[T any](v T) *T {
	return &v
}
