package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Assistant   AssistantConfig           `json:"assistant"`
}

type BasicConfig struct {
	ServerAddress     string   `json:"server_address"`
	LogMode           string   `json:"log_mode"`
	TokenTTLHours     int      `json:"token_ttl_hours"`
	AllowedOrigins    []string `json:"allowed_origins"`
	MinWorkers        int      `json:"min_workers"`
	MaxWorkers        int      `json:"max_workers"`
	QueueSize         int      `json:"queue_size"`
	WorkerIdleTimeout int      `json:"worker_idle_timeout"` // seconds
}

// DatabaseConfig is keyed by driver name in Config.Databases.
// DSN wins over the discrete fields when set.
type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

// Key returns the configured API key, falling back to the named environment variable.
func (p ProviderConfig) Key() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

type AssistantConfig struct {
	Provider        string  `json:"provider"`
	HistoryTurns    int     `json:"history_turns"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float32 `json:"temperature"`
	PromptsPath     string  `json:"prompts_path"`
}

const (
	DefaultServerAddress   = ":8090"
	DefaultHistoryTurns    = 10
	DefaultTimeoutSeconds  = 10
	DefaultMaxOutputTokens = 2000
	DefaultTemperature     = 0.7
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.ApplyDefaults()
	if cfg.Assistant.PromptsPath != "" && !filepath.IsAbs(cfg.Assistant.PromptsPath) {
		cfg.Assistant.PromptsPath = filepath.Join(filepath.Dir(absPath), cfg.Assistant.PromptsPath)
	}
	if sqlite, ok := cfg.Databases["sqlite3"]; ok && sqlite.DSN != "" && sqlite.DSN != ":memory:" && !filepath.IsAbs(sqlite.DSN) {
		sqlite.DSN = filepath.Join(filepath.Dir(absPath), sqlite.DSN)
		cfg.Databases["sqlite3"] = sqlite
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with the service defaults.
func (c *Config) ApplyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.LogMode == "" {
		b.LogMode = "production"
	}
	if b.TokenTTLHours <= 0 {
		b.TokenTTLHours = 24
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 30
	}

	a := &c.Assistant
	if a.Provider == "" {
		a.Provider = "gemini"
	}
	if a.HistoryTurns <= 0 {
		a.HistoryTurns = DefaultHistoryTurns
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if a.MaxOutputTokens <= 0 {
		a.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if a.Temperature <= 0 {
		a.Temperature = DefaultTemperature
	}

	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if p, ok := c.Providers["gemini"]; ok && p.APIKey == "" && p.APIKeyEnv == "" {
		p.APIKeyEnv = "GEMINI_API_KEY"
		c.Providers["gemini"] = p
	}
}

// Validate reports configuration that cannot produce a working service.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}
	provider := strings.ToLower(c.Assistant.Provider)
	if _, ok := c.Providers[provider]; !ok {
		return fmt.Errorf("provider %s not configured", provider)
	}
	if c.BasicConfig.QueueSize <= 0 || c.BasicConfig.MaxWorkers <= 0 {
		return errors.New("worker limits must be positive")
	}
	return nil
}
