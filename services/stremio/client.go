package stremio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultLinkBaseURL = "https://link.stremio.com"
	defaultAPIBaseURL  = "https://api.strem.io"
	defaultOrigin      = "https://web.stremio.com"
)

// Client handles Stremio link-code authentication and account API calls.
type Client struct {
	httpClient  *http.Client
	linkBaseURL string
	apiBaseURL  string
	origin      string
}

// Config overrides the production endpoints, mainly for tests.
type Config struct {
	LinkBaseURL string
	APIBaseURL  string
	Origin      string
}

// NewClient creates a new Stremio API client.
func NewClient(cfg Config) *Client {
	if cfg.LinkBaseURL == "" {
		cfg.LinkBaseURL = defaultLinkBaseURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin
	}
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		linkBaseURL: cfg.LinkBaseURL,
		apiBaseURL:  cfg.APIBaseURL,
		origin:      cfg.Origin,
	}
}

// setOriginHeaders adds the origin-identifying headers the link service
// expects from web clients.
func (c *Client) setOriginHeaders(req *http.Request) {
	req.Header.Set("Origin", c.origin)
	req.Header.Set("Referer", c.origin+"/")
	req.Header.Set("Accept", "application/json")
}

// LinkSession is a freshly minted link-code pair. The user opens Link in a
// browser and authorizes; afterwards ReadLink reports success with an auth
// key.
type LinkSession struct {
	Code string `json:"code"`
	Link string `json:"link,omitempty"`
}

// LinkUser is the account identity reported by the link service after the
// user authorizes.
type LinkUser struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// LinkReadResult is the state of a link code. Success stays false until the
// user completes authorization in their browser.
type LinkReadResult struct {
	Success bool      `json:"success"`
	AuthKey string    `json:"authKey,omitempty"`
	User    *LinkUser `json:"user,omitempty"`
}

// CreateLink mints a new link code.
func (c *Client) CreateLink() (*LinkSession, error) {
	req, err := http.NewRequest(http.MethodGet, c.linkBaseURL+"/api/v2/create?type=Create", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setOriginHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("link api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("link creation failed: %s - %s", resp.Status, string(body))
	}

	var payload struct {
		Result *LinkSession `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Result == nil || payload.Result.Code == "" {
		return nil, fmt.Errorf("link creation returned no code")
	}

	session := payload.Result
	if session.Link == "" {
		session.Link = c.AuthURL(session.Code)
	}
	return session, nil
}

// ReadLink checks whether a link code has been authorized. A successful call
// with Success=false means the user has not finished yet.
func (c *Client) ReadLink(code string) (*LinkReadResult, error) {
	params := url.Values{}
	params.Set("type", "Read")
	params.Set("code", code)

	req, err := http.NewRequest(http.MethodGet, c.linkBaseURL+"/api/v2/read?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setOriginHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("link api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("link read failed: %s - %s", resp.Status, string(body))
	}

	var payload struct {
		Result *LinkReadResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Result == nil {
		return nil, fmt.Errorf("link read returned no result")
	}

	return payload.Result, nil
}

// AuthURL returns the browser URL a user opens to authorize a link code.
func (c *Client) AuthURL(code string) string {
	params := url.Values{}
	params.Set("code", code)
	return fmt.Sprintf("%s/#?%s", c.linkBaseURL, params.Encode())
}

// User is the account behind an auth key.
type User struct {
	ID       string `json:"_id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call posts a JSON-RPC style request to the account API and decodes the
// result envelope.
func (c *Client) call(method string, body any, result any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.apiBaseURL+"/api/"+method, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	c.setOriginHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("account api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("account api %s failed: %s - %s", method, resp.Status, string(respBody))
	}

	var payload struct {
		Result json.RawMessage `json:"result"`
		Error  *apiError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if payload.Error != nil {
		return fmt.Errorf("account api %s error %d: %s", method, payload.Error.Code, payload.Error.Message)
	}
	if result != nil && payload.Result != nil {
		if err := json.Unmarshal(payload.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// GetUser resolves the account identity behind an auth key. Used to verify
// that the authorizing account matches the identity a join request claimed.
func (c *Client) GetUser(authKey string) (*User, error) {
	var user User
	if err := c.call("getUser", map[string]string{"authKey": authKey}, &user); err != nil {
		return nil, err
	}
	if user.Email == "" {
		return nil, fmt.Errorf("account api returned user without email")
	}
	return &user, nil
}

// AddonManifest is the subset of an addon manifest the collection API needs.
type AddonManifest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AddonRef points at an installable addon.
type AddonRef struct {
	TransportURL string        `json:"transportUrl"`
	Manifest     AddonManifest `json:"manifest"`
}

// SetAddonCollection replaces the addon collection of the account behind the
// auth key.
func (c *Client) SetAddonCollection(authKey string, addons []AddonRef) error {
	body := map[string]any{
		"authKey": authKey,
		"addons":  addons,
	}
	var result struct {
		Success bool `json:"success"`
	}
	if err := c.call("addonCollectionSet", body, &result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("addon collection update not acknowledged")
	}
	return nil
}
