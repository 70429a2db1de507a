package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// OAuthConfig carries the issuer identity and the signing keypair.
// Keys are base64-encoded PEM blocks so each fits in a single environment
// variable. Both keys empty means "keys not configured", which is a
// legitimate state during rollout, not a startup failure.
type OAuthConfig struct {
	Issuer               string `yaml:"issuer"`
	KeyID                string `yaml:"key_id"`
	PrivateKeyBase64     string `yaml:"private_key_base64"`
	PublicKeyBase64      string `yaml:"public_key_base64"`
	AccessTokenTTLSecs   int    `yaml:"access_token_ttl_seconds"`
	RefreshTokenTTLHours int    `yaml:"refresh_token_ttl_hours"`
	AuthCodeTTLSecs      int    `yaml:"auth_code_ttl_seconds"`
}

// RedisConfig backs the jti blacklist, the token-endpoint rate counter,
// login sessions and the async event queue. When disabled the server runs
// with in-process fallbacks.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	TTLHours   int    `yaml:"ttl_hours"`
	Secure     bool   `yaml:"secure"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
	}

	cfg.overrideFromEnv()
	cfg.applyDefaults()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "authgrid.db",
		},
		OAuth: OAuthConfig{
			Issuer:               "http://localhost:8080",
			KeyID:                "authgrid-key-1",
			AccessTokenTTLSecs:   900,
			RefreshTokenTTLHours: 14 * 24,
			AuthCodeTTLSecs:      300,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Session: SessionConfig{
			CookieName: "authgrid_session",
			TTLHours:   12,
		},
	}
}

// applyDefaults fills zero values left by partial config files.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.OAuth.Issuer == "" {
		c.OAuth.Issuer = d.OAuth.Issuer
	}
	if c.OAuth.KeyID == "" {
		c.OAuth.KeyID = d.OAuth.KeyID
	}
	if c.OAuth.AccessTokenTTLSecs <= 0 {
		c.OAuth.AccessTokenTTLSecs = d.OAuth.AccessTokenTTLSecs
	}
	if c.OAuth.RefreshTokenTTLHours <= 0 {
		c.OAuth.RefreshTokenTTLHours = d.OAuth.RefreshTokenTTLHours
	}
	if c.OAuth.AuthCodeTTLSecs <= 0 {
		c.OAuth.AuthCodeTTLSecs = d.OAuth.AuthCodeTTLSecs
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = d.Session.CookieName
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = d.Session.TTLHours
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if issuer := os.Getenv("OAUTH_ISSUER"); issuer != "" {
		c.OAuth.Issuer = issuer
	}
	if kid := os.Getenv("OAUTH_KEY_ID"); kid != "" {
		c.OAuth.KeyID = kid
	}
	if key := os.Getenv("OAUTH_PRIVATE_KEY"); key != "" {
		c.OAuth.PrivateKeyBase64 = key
	}
	if key := os.Getenv("OAUTH_PUBLIC_KEY"); key != "" {
		c.OAuth.PublicKeyBase64 = key
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
