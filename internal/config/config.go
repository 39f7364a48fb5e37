package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Keys       KeysConfig
	Revocation RevocationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	Encoding string
	Service  string
}

// AuthConfig defines token issuance parameters.
type AuthConfig struct {
	Issuer                 string
	AccessTokenTTLSeconds  int
	RefreshTokenTTLSeconds int
	RotateRefreshTokens    bool
	RotateWindowSeconds    int
	TrackAccessTokens      bool
}

// KeysConfig locates the durable signing key artifacts.
type KeysConfig struct {
	Dir            string
	PublicKeyFile  string
	PrivateKeyFile string
}

// RevocationConfig configures the redis-backed token registry.
type RevocationConfig struct {
	RefreshPrefix string
	AccessPrefix  string
	TimeoutMillis int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "auth-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Auth: AuthConfig{
			Issuer:                 getEnv("AUTH_ISSUER", "auth-service"),
			AccessTokenTTLSeconds:  getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_SECONDS", 900),
			RefreshTokenTTLSeconds: getEnvAsInt("AUTH_REFRESH_TOKEN_TTL_SECONDS", 604800),
			RotateRefreshTokens:    getEnvAsBool("AUTH_ROTATE_REFRESH_TOKENS", false),
			RotateWindowSeconds:    getEnvAsInt("AUTH_ROTATE_WINDOW_SECONDS", 86400),
			TrackAccessTokens:      getEnvAsBool("AUTH_TRACK_ACCESS_TOKENS", false),
		},
		Keys: KeysConfig{
			Dir:            getEnv("AUTH_KEY_DIR", "data/keys"),
			PublicKeyFile:  getEnv("AUTH_PUBLIC_KEY_FILE", "public.key"),
			PrivateKeyFile: getEnv("AUTH_PRIVATE_KEY_FILE", "private.key"),
		},
		Revocation: RevocationConfig{
			RefreshPrefix: getEnv("REVOCATION_REFRESH_PREFIX", "auth:refresh:"),
			AccessPrefix:  getEnv("REVOCATION_ACCESS_PREFIX", "auth:access:"),
			TimeoutMillis: getEnvAsInt("REVOCATION_TIMEOUT_MS", 2000),
		},
	}

	cfg.Logger.Service = cfg.App.Name

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations under which issued tokens cannot be classified.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Issuer) == "" {
		return errors.New("AUTH_ISSUER must not be empty")
	}
	if c.Auth.AccessTokenTTLSeconds <= 0 || c.Auth.RefreshTokenTTLSeconds <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Auth.AccessTokenTTLSeconds == c.Auth.RefreshTokenTTLSeconds {
		return fmt.Errorf("access and refresh token lifetimes collide (%ds)", c.Auth.AccessTokenTTLSeconds)
	}
	if c.Revocation.RefreshPrefix == c.Revocation.AccessPrefix {
		return errors.New("revocation key prefixes must differ")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessLifetime returns the access token lifetime.
func (a AuthConfig) AccessLifetime() time.Duration {
	return time.Duration(a.AccessTokenTTLSeconds) * time.Second
}

// RefreshLifetime returns the refresh token lifetime.
func (a AuthConfig) RefreshLifetime() time.Duration {
	return time.Duration(a.RefreshTokenTTLSeconds) * time.Second
}

// RotateWindow returns the remaining-life threshold below which refresh tokens rotate.
func (a AuthConfig) RotateWindow() time.Duration {
	if a.RotateWindowSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RotateWindowSeconds) * time.Second
}

// Timeout bounds every revocation store round trip.
func (r RevocationConfig) Timeout() time.Duration {
	if r.TimeoutMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(r.TimeoutMillis) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
