package config

import "time"

// Config is the root configuration for Minstrel.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Database      DatabaseConfig      `yaml:"database"`
	Provider      ProviderConfig      `yaml:"provider"`
	Poll          PollConfig          `yaml:"poll"`
	MCP           MCPConfig           `yaml:"mcp"`
	Tunnel        TunnelConfig        `yaml:"tunnel"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	PublicURL      string   `yaml:"public_url"`
	LogLevel       string   `yaml:"log_level"`
	LogFile        string   `yaml:"log_file"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	// JWTSecret signs and verifies client tokens. When empty, a secret is
	// generated and persisted next to the database.
	JWTSecret string          `yaml:"jwt_secret"`
	APITokens []APITokenEntry `yaml:"api_tokens"`
}

// APITokenEntry is a static bearer token for the MCP surface,
// stored as a sha256 hex digest.
type APITokenEntry struct {
	Name      string `yaml:"name"`
	TokenHash string `yaml:"token_hash"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type PollConfig struct {
	// Interval is the sleep between provider queries for one task.
	Interval time.Duration `yaml:"interval"`
	// MaxDuration bounds a poller's total wall-clock lifetime.
	MaxDuration time.Duration `yaml:"max_duration"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TunnelConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"auth_token"`
	Domain    string `yaml:"domain"`
}

type NotificationsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8640,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Path:          "~/.config/minstrel/minstrel.db",
			RetentionDays: 30,
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.songforge.io",
			Timeout: 15 * time.Second,
		},
		Poll: PollConfig{
			Interval:    5 * time.Second,
			MaxDuration: 5 * time.Minute,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}
