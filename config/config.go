package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrInvalidSettings    = errors.New("invalid settings")
)

// Env is the process bootstrap configuration, resolved once at startup from
// environment variables. Everything that must be known before services exist
// lives here; tunables that may change at runtime live in Settings.
type Env struct {
	Addr        string `env:"GROUPWATCH_ADDR" envDefault:":8460"`
	DataDir     string `env:"GROUPWATCH_DATA_DIR" envDefault:"./data"`
	LogDir      string `env:"GROUPWATCH_LOG_DIR"`
	DatabaseDir string `env:"GROUPWATCH_DB_DIR"`
}

// LoadEnv parses the bootstrap environment. Unset variables fall back to
// their defaults; DatabaseDir and LogDir default to subdirectories of DataDir.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse environment: %w", err)
	}
	if e.DatabaseDir == "" {
		e.DatabaseDir = filepath.Join(e.DataDir, "db")
	}
	if e.LogDir == "" {
		e.LogDir = filepath.Join(e.DataDir, "logs")
	}
	return e, nil
}

// Settings are the runtime-tunable server settings, persisted as JSON in the
// data directory and editable through the admin API.
type Settings struct {
	// ProviderBaseURL is the base URL of the link service used for the
	// OAuth-style handshake.
	ProviderBaseURL string `json:"providerBaseUrl"`
	// ProviderOrigin is sent as the Origin/Referer pair on provider calls so
	// the provider can attribute traffic.
	ProviderOrigin string `json:"providerOrigin"`
	// OAuthLinkTTLMinutes bounds how long an issued link/code pair stays
	// redeemable before clients treat it as expired.
	OAuthLinkTTLMinutes int `json:"oauthLinkTtlMinutes"`
	// SessionHours is the admin session lifetime.
	SessionHours int `json:"sessionHours"`
	// SubmitPerMinute caps public submit/oauth requests per client IP.
	SubmitPerMinute int `json:"submitPerMinute"`
	// SubmitBurst is the rate limiter burst for the same endpoints.
	SubmitBurst int `json:"submitBurst"`
	// InviteCodeLength is the generated invitation code length.
	InviteCodeLength int `json:"inviteCodeLength"`
	// BackupIntervalHours is how often the maintenance loop snapshots the data
	// directory. Zero disables scheduled backups.
	BackupIntervalHours int `json:"backupIntervalHours"`
	// BackupRetentionCount is how many scheduled backups to keep. Zero keeps
	// all of them.
	BackupRetentionCount int `json:"backupRetentionCount"`
	// PrunePendingAfterDays removes pending join requests untouched for this
	// many days. Zero disables pruning.
	PrunePendingAfterDays int `json:"prunePendingAfterDays"`
}

// DefaultSettings returns the settings used when no file exists yet.
func DefaultSettings() Settings {
	return Settings{
		ProviderBaseURL:       "https://link.stremio.com",
		ProviderOrigin:        "https://web.stremio.com",
		OAuthLinkTTLMinutes:   15,
		SessionHours:          24 * 7,
		SubmitPerMinute:       10,
		SubmitBurst:           5,
		InviteCodeLength:      12,
		BackupIntervalHours:   24,
		BackupRetentionCount:  14,
		PrunePendingAfterDays: 30,
	}
}

// OAuthLinkTTL returns the link TTL as a duration.
func (s Settings) OAuthLinkTTL() time.Duration {
	return time.Duration(s.OAuthLinkTTLMinutes) * time.Minute
}

// SessionDuration returns the admin session lifetime as a duration.
func (s Settings) SessionDuration() time.Duration {
	return time.Duration(s.SessionHours) * time.Hour
}

// BackupInterval returns the scheduled backup interval, or zero when
// scheduled backups are disabled.
func (s Settings) BackupInterval() time.Duration {
	return time.Duration(s.BackupIntervalHours) * time.Hour
}

// PrunePendingAfter returns the pending-request retention window, or zero
// when pruning is disabled.
func (s Settings) PrunePendingAfter() time.Duration {
	return time.Duration(s.PrunePendingAfterDays) * 24 * time.Hour
}

// Manager persists Settings with copy-on-read semantics so handlers never
// observe a partially applied update.
type Manager struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// NewManager loads (or initializes) settings inside the provided directory.
func NewManager(storageDir string) (*Manager, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	m := &Manager{
		path:     filepath.Join(storageDir, "settings.json"),
		settings: DefaultSettings(),
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	return m, nil
}

// Get returns a snapshot of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Update replaces the settings and persists them. Validation failures are
// reported as ErrInvalidSettings and leave the stored settings untouched.
func (m *Manager) Update(s Settings) error {
	if s.OAuthLinkTTLMinutes <= 0 || s.SessionHours <= 0 {
		return fmt.Errorf("%w: ttl values must be positive", ErrInvalidSettings)
	}
	if s.SubmitPerMinute <= 0 || s.SubmitBurst <= 0 {
		return fmt.Errorf("%w: rate limit values must be positive", ErrInvalidSettings)
	}
	if s.InviteCodeLength < 6 {
		return fmt.Errorf("%w: invite code length must be at least 6", ErrInvalidSettings)
	}
	if s.BackupIntervalHours < 0 || s.BackupRetentionCount < 0 || s.PrunePendingAfterDays < 0 {
		return fmt.Errorf("%w: maintenance values must not be negative", ErrInvalidSettings)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return m.saveLocked()
}

func (m *Manager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.Open(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}

	m.settings = s
	return nil
}

func (m *Manager) saveLocked() error {
	tmp := m.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create settings temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.settings); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync settings: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close settings temp file: %w", err)
	}

	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}

	return nil
}
