package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Host        string `toml:"host"`
	Port        string `toml:"port"`
	Token       string `toml:"token"` // admin token, plain or bcrypt hash
	DatabaseURL string `toml:"db-path"`
	JWTSecret   string `toml:"jwt-secret"`
	LogLevel    string `toml:"log-level"`

	// Set when no jwt-secret was configured and a random one was generated.
	// Sessions then do not survive a restart.
	JWTSecretGenerated bool `toml:"-"`

	CatalogTTL      time.Duration `toml:"-"`
	InviteRetention time.Duration `toml:"-"`
	SweepSchedule   string        `toml:"sweep-schedule"`

	Komga     BackendConfig  `toml:"komga"`
	Navidrome *BackendConfig `toml:"navidrome"`

	CatalogTTLRaw      string `toml:"catalog-ttl"`
	InviteRetentionRaw string `toml:"invite-retention"`
}

// BackendConfig describes a media server. Hostname is the address users are
// sent to after redeeming, when it differs from Host (e.g. behind a proxy).
type BackendConfig struct {
	Host     string `toml:"host"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Hostname string `toml:"hostname"`
}

func (b BackendConfig) PublicHost() string {
	if b.Hostname != "" {
		return b.Hostname
	}
	return b.Host
}

func defaults() *Config {
	return &Config{
		Host:               "127.0.0.1",
		Port:               "5148",
		DatabaseURL:        "./.klibrarian/database.sqlite",
		LogLevel:           "info",
		SweepSchedule:      "@hourly",
		CatalogTTLRaw:      "1m",
		InviteRetentionRaw: "720h",
	}
}

// Load reads path (a TOML file, optional) and then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Token = getEnv("ADMIN_TOKEN", cfg.Token)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SweepSchedule = getEnv("SWEEP_SCHEDULE", cfg.SweepSchedule)
	cfg.CatalogTTLRaw = getEnv("CATALOG_TTL", cfg.CatalogTTLRaw)
	cfg.InviteRetentionRaw = getEnv("INVITE_RETENTION", cfg.InviteRetentionRaw)

	cfg.Komga.Host = getEnv("KOMGA_HOST", cfg.Komga.Host)
	cfg.Komga.Username = getEnv("KOMGA_USERNAME", cfg.Komga.Username)
	cfg.Komga.Password = getEnv("KOMGA_PASSWORD", cfg.Komga.Password)
	cfg.Komga.Hostname = getEnv("KOMGA_HOSTNAME", cfg.Komga.Hostname)

	if _, ok := os.LookupEnv("NAVIDROME_HOST"); ok && cfg.Navidrome == nil {
		cfg.Navidrome = &BackendConfig{}
	}
	if cfg.Navidrome != nil {
		cfg.Navidrome.Host = getEnv("NAVIDROME_HOST", cfg.Navidrome.Host)
		cfg.Navidrome.Username = getEnv("NAVIDROME_USERNAME", cfg.Navidrome.Username)
		cfg.Navidrome.Password = getEnv("NAVIDROME_PASSWORD", cfg.Navidrome.Password)
		cfg.Navidrome.Hostname = getEnv("NAVIDROME_HOSTNAME", cfg.Navidrome.Hostname)
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
		}
		cfg.JWTSecret = secret
		cfg.JWTSecretGenerated = true
	}

	var err error
	if cfg.CatalogTTL, err = time.ParseDuration(cfg.CatalogTTLRaw); err != nil {
		return nil, fmt.Errorf("invalid catalog-ttl: %w", err)
	}
	if cfg.InviteRetention, err = time.ParseDuration(cfg.InviteRetentionRaw); err != nil {
		return nil, fmt.Errorf("invalid invite-retention: %w", err)
	}
	return cfg, nil
}

func (c *Config) HasNavidrome() bool {
	return c.Navidrome != nil
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host cannot be empty")
	}
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("admin token cannot be empty")
	}
	if len(c.JWTSecret) < minSecretLen {
		return fmt.Errorf("jwt secret must be at least %d characters", minSecretLen)
	}
	if err := c.Komga.validate("komga"); err != nil {
		return err
	}
	if c.Navidrome != nil {
		if err := c.Navidrome.validate("navidrome"); err != nil {
			return err
		}
	}
	if c.CatalogTTL < 0 || c.InviteRetention < 0 {
		return errors.New("durations cannot be negative")
	}
	return nil
}

func (b BackendConfig) validate(name string) error {
	switch {
	case strings.TrimSpace(b.Host) == "":
		return fmt.Errorf("%s host cannot be empty", name)
	case strings.TrimSpace(b.Username) == "":
		return fmt.Errorf("%s username cannot be empty", name)
	case strings.TrimSpace(b.Password) == "":
		return fmt.Errorf("%s password cannot be empty", name)
	}
	return nil
}

const minSecretLen = 16

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
