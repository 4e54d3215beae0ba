package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

const minSessionSecretLength = 32

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	WebAuthn  WebAuthnConfig
	Session   SessionConfig
	Bootstrap BootstrapConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	FrontendURL string

	// DevAuthBypass skips session checks on protected routes. DEV ONLY:
	// never enable in a reachable deployment. Off by default and refused
	// outright when Env is "production".
	DevAuthBypass bool
}

// StoreConfig selects the credential-store backend. One of "postgres",
// "sqlite", "redis" or "minio", decided once at startup.
type StoreConfig struct {
	Backend    string
	SQLitePath string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type WebAuthnConfig struct {
	RPID             string
	RPDisplayName    string
	RPOrigin         string
	UserVerification string
	ChallengeTTL     time.Duration
	OwnerName        string
}

type SessionConfig struct {
	Secret     string
	Lifetime   time.Duration
	CookieName string
}

type BootstrapConfig struct {
	Token     string
	ExpiresAt time.Time // zero value means no expiry
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8080"),
			Env:           getEnv("APP_ENV", "development"),
			FrontendURL:   getEnv("FRONTEND_URL", "http://localhost:3001"),
			DevAuthBypass: getEnvAsBool("AUTH_DEV_BYPASS", false),
		},
		Store: StoreConfig{
			Backend:    getEnv("STORE_BACKEND", "postgres"),
			SQLitePath: getEnv("STORE_SQLITE_PATH", "glucolog.db"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "glucolog"),
			Password: getEnv("DB_PASSWORD", "glucolog_secret"),
			Name:     getEnv("DB_NAME", "glucolog"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "glucolog:auth"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "glucolog"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "glucolog_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "glucolog-auth"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		WebAuthn: WebAuthnConfig{
			RPID:             getEnv("WEBAUTHN_RP_ID", ""),
			RPDisplayName:    getEnv("WEBAUTHN_RP_NAME", "glucolog"),
			RPOrigin:         getEnv("WEBAUTHN_ORIGIN", ""),
			UserVerification: getEnv("WEBAUTHN_USER_VERIFICATION", "preferred"),
			ChallengeTTL:     getEnvAsDuration("WEBAUTHN_CHALLENGE_TTL", 5*time.Minute),
			OwnerName:        getEnv("OWNER_NAME", "Owner"),
		},
		Session: SessionConfig{
			Secret:     getEnv("SESSION_SECRET", ""),
			Lifetime:   getEnvAsDuration("SESSION_LIFETIME", 7*24*time.Hour),
			CookieName: getEnv("SESSION_COOKIE_NAME", "glucolog_session"),
		},
		Bootstrap: BootstrapConfig{
			Token:     getEnv("BOOTSTRAP_TOKEN", ""),
			ExpiresAt: getEnvAsTime("BOOTSTRAP_EXPIRES_AT"),
		},
	}
}

// Validate reports whether the auth core can operate. The caller keeps the
// returned error and maps it to a generic 503 at request time; the specific
// missing variables are only ever logged server-side.
func (c *Config) Validate() error {
	var errs []error

	if c.WebAuthn.RPID == "" {
		errs = append(errs, errors.New("WEBAUTHN_RP_ID is required"))
	}
	if c.WebAuthn.RPOrigin == "" {
		errs = append(errs, errors.New("WEBAUTHN_ORIGIN is required"))
	} else if u, err := url.Parse(c.WebAuthn.RPOrigin); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("WEBAUTHN_ORIGIN %q is not a scheme://host origin", c.WebAuthn.RPOrigin))
	}
	if len(c.Session.Secret) < minSessionSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength))
	}
	switch c.Store.Backend {
	case "postgres", "sqlite", "redis", "minio":
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of postgres, sqlite, redis, minio", c.Store.Backend))
	}
	if c.Server.DevAuthBypass && c.Server.Env == "production" {
		errs = append(errs, errors.New("AUTH_DEV_BYPASS must not be enabled in production"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsTime(key string) time.Time {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.Parse(time.RFC3339, value)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}
