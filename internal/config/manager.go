package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	Provider string `json:"provider,omitempty"` // anthropic, openai, deepseek, ollama
	APIKey   string `json:"api_key,omitempty"`  // The API key for the selected provider
	Model    string `json:"model,omitempty"`    // Default model name
	BaseURL  string `json:"base_url,omitempty"` // Optional override for API base URL

	WorkingDir  string   `json:"working_directory,omitempty"`
	AllowedDirs []string `json:"allowed_directories,omitempty"`
	MaxTurns    int      `json:"max_turns,omitempty"`

	// Tunables; these take effect without a restart when the config file
	// is edited while the process runs.
	InactivityTimeoutSeconds int `json:"inactivity_timeout_seconds,omitempty"`
	ThrottleMillis           int `json:"throttle_ms,omitempty"`

	DeepKeywords   []string `json:"deep_keywords,omitempty"`
	NormalKeywords []string `json:"normal_keywords,omitempty"`
	AskUserTools   []string `json:"ask_user_tools,omitempty"`

	AuditDBPath     string  `json:"audit_db_path,omitempty"`
	RateLimitPerSec float64 `json:"rate_limit_per_sec,omitempty"`
	RateLimitBurst  int     `json:"rate_limit_burst,omitempty"`
}

// InactivityTimeout returns the configured watchdog interval, or zero when
// unset so the caller's default applies.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSeconds) * time.Second
}

// ThrottleInterval returns the configured text-emission throttle, or zero
// when unset so the caller's default applies.
func (c *Config) ThrottleInterval() time.Duration {
	return time.Duration(c.ThrottleMillis) * time.Millisecond
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}

	return &Manager{
		configDir: filepath.Join(configDir, "relay"),
	}, nil
}

// NewManagerAt creates a manager rooted at an explicit directory.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk and applies environment
// overrides. If the file does not exist, it returns a Config populated
// from the environment alone and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.GetConfigPath()

	var cfg Config
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config json: %w", err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv lets environment variables override file values, so a shell
// export wins over stale on-disk settings.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("AGENT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AGENT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("RELAY_WORKING_DIR"); v != "" {
		cfg.WorkingDir = v
	}
	if v := os.Getenv("RELAY_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTurns = n
		}
	}
	if v := os.Getenv("RELAY_INACTIVITY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.InactivityTimeoutSeconds = n
		}
	}
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := m.GetConfigPath()
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
