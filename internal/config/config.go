package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the gateway runtime configuration. Values come from an optional
// TOML file named by ACCESSGATE_CONFIG, then environment overrides.
type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
}

type HTTPConfig struct {
	Addr              string        `toml:"addr"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	IdleTimeout       time.Duration `toml:"idle_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	MaxBodyBytes      int64         `toml:"max_body_bytes"`
	AllowedOrigins    []string      `toml:"allowed_origins"`
	TrustProxy        bool          `toml:"trust_proxy"`
}

type DatabaseConfig struct {
	// DSN selects PostgreSQL; empty keeps every store in memory.
	DSN         string `toml:"dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

type AuthConfig struct {
	Secret       string        `toml:"secret"`
	AdminPasskey string        `toml:"admin_passkey"`
	TokenTTL     time.Duration `toml:"token_ttl"`
	TokenIssuer  string        `toml:"token_issuer"`
	BcryptCost   int           `toml:"bcrypt_cost"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":5000",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Database: DatabaseConfig{AutoMigrate: true},
		Auth: AuthConfig{
			TokenTTL:    7 * 24 * time.Hour,
			TokenIssuer: "accessgate",
			BcryptCost:  10,
		},
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("ACCESSGATE_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTP.Addr = getEnv("ACCESSGATE_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Database.DSN = getEnv("ACCESSGATE_PG_DSN", cfg.Database.DSN)
	cfg.Auth.Secret = getEnv("ACCESSGATE_AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.AdminPasskey = getEnv("ACCESSGATE_ADMIN_PASSKEY", cfg.Auth.AdminPasskey)
	cfg.Auth.TokenIssuer = getEnv("ACCESSGATE_TOKEN_ISSUER", cfg.Auth.TokenIssuer)
	if v := getEnv("ACCESSGATE_ALLOWED_ORIGINS", ""); v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ACCESSGATE_TOKEN_TTL", &cfg.Auth.TokenTTL},
		{"ACCESSGATE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"ACCESSGATE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"ACCESSGATE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"ACCESSGATE_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	if cfg.HTTP.TrustProxy, err = getEnvBool("ACCESSGATE_TRUST_PROXY", cfg.HTTP.TrustProxy); err != nil {
		return err
	}
	if cfg.Database.AutoMigrate, err = getEnvBool("ACCESSGATE_AUTO_MIGRATE", cfg.Database.AutoMigrate); err != nil {
		return err
	}
	if cfg.Auth.BcryptCost, err = getEnvInt("ACCESSGATE_BCRYPT_COST", cfg.Auth.BcryptCost); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("ACCESSGATE_HTTP_ADDR must not be empty"))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("ACCESSGATE_AUTH_SECRET must be set"))
	}
	if strings.TrimSpace(c.Auth.AdminPasskey) == "" {
		errs = append(errs, errors.New("ACCESSGATE_ADMIN_PASSKEY must be set"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESSGATE_TOKEN_TTL must be > 0"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, errors.New("ACCESSGATE_BCRYPT_COST must be between 4 and 31"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be > 0"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}

func getEnvInt(key string, fallback int) (int, error) {
	val := getEnv(key, "")
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := getEnv(key, "")
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := getEnv(key, "")
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
