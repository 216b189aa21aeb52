package joinapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"groupwatch/models"
)

// Error discriminators returned by the public join endpoints. Clients branch
// on these rather than matching message text.
const (
	CodeEmailExists           = "EMAIL_EXISTS"
	CodeUsernameExists        = "USERNAME_EXISTS"
	CodeEmailAndUsernameExist = "EMAIL_AND_USERNAME_EXIST"
	CodeRequestExists         = "REQUEST_EXISTS"
	CodeNotAccepted           = "NOT_ACCEPTED"
	CodeUserExists            = "USER_EXISTS"
	CodeEmailMismatch         = "EMAIL_MISMATCH"
	CodeAuthKeyInvalid        = "AUTH_KEY_INVALID"
	CodeInvitationDisabled    = "INVITATION_DISABLED"
)

// APIError is a non-2xx answer from the server, carrying the HTTP status and
// the machine-readable discriminator when the server provided one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 answer from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ErrorCode returns the discriminator carried by err, or "" when err is not
// an APIError or the server sent none.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// Client talks to a groupwatch server's public join endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a join API client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Invitation is the public metadata of an invitation code.
type Invitation struct {
	Code      string `json:"code"`
	GroupName string `json:"groupName,omitempty"`
	Label     string `json:"label,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// Invitation fetches the public metadata for an invitation code. A 404 means
// the code is unknown or was deleted.
func (c *Client) Invitation(code string) (*Invitation, error) {
	var inv Invitation
	if err := c.do(http.MethodGet, "/invitations/"+url.PathEscape(code), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Status fetches the join request record for the claimed identity. A 404
// means no request exists for this code and email.
func (c *Client) Status(code, email, username string) (*models.JoinRequestStatus, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("username", username)

	var status models.JoinRequestStatus
	path := "/invitations/" + url.PathEscape(code) + "/status?" + params.Encode()
	if err := c.do(http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Submit registers a join request against an invitation. Conflicts come back
// as an *APIError with one of the 409 discriminators; REQUEST_EXISTS means a
// request for this identity is already on file.
func (c *Client) Submit(code, email, username string) error {
	body := map[string]string{"email": email, "username": username}
	return c.do(http.MethodPost, "/invitations/"+url.PathEscape(code)+"/requests", body, nil)
}

// GenerateLink asks the server to mint a fresh authorization link for an
// accepted request and returns the refreshed record.
func (c *Client) GenerateLink(code, email, username string) (*models.JoinRequestStatus, error) {
	body := map[string]string{"email": email, "username": username}

	var status models.JoinRequestStatus
	if err := c.do(http.MethodPost, "/invitations/"+url.PathEscape(code)+"/oauth", body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Complete exchanges an authorized key for membership.
func (c *Client) Complete(code, email, username, authKey, groupName string) error {
	body := map[string]string{
		"email":    email,
		"username": username,
		"authKey":  authKey,
	}
	if groupName != "" {
		body["groupName"] = groupName
	}
	return c.do(http.MethodPost, "/invitations/"+url.PathEscape(code)+"/complete", body, nil)
}

// do sends one request and decodes either the result or the server's error
// envelope into an *APIError.
func (c *Client) do(method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("join api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeError builds an APIError from a failed response. Bodies that are not
// the server's error envelope still produce a usable error with the HTTP
// status.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && (payload.Error != "" || payload.Code != "") {
		if payload.Error != "" {
			apiErr.Message = payload.Error
		}
		apiErr.Code = payload.Code
	}
	return apiErr
}
