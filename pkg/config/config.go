package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is everything tp-api reads from the environment or a local .env file.
type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Cache        CacheConfig
	Reports      ReportsConfig
	Documents    DocumentsConfig
	Assistant    AssistantConfig
	Pagination   PaginationConfig
	Observations ObservationsConfig
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
	// ConnectAttempts bounds the startup pings made before giving up.
	ConnectAttempts int
}

// RedisConfig locates the list cache. URL, when set, wins over the discrete fields.
type RedisConfig struct {
	URL         string
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
	// SingleSession ends existing sessions when the same account signs in again.
	SingleSession bool
	// RefreshCookie also hands the refresh token out as an HttpOnly cookie.
	RefreshCookie bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig governs the Redis-backed list cache.
type CacheConfig struct {
	Enabled bool
	ListTTL time.Duration
}

// ReportsConfig configures asynchronous report generation.
type ReportsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	RetryDelay        time.Duration
}

// DocumentsConfig controls where generated lesson plan PDFs are stored.
type DocumentsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// AssistantConfig points at the AI lesson plan generator.
type AssistantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// PaginationConfig fixes page sizes per listing.
type PaginationConfig struct {
	LessonPlanPageSize  int
	ObservationPageSize int
}

// ObservationsConfig toggles the bulk import endpoint and caps its size.
type ObservationsConfig struct {
	ImportEnabled bool
	ImportMaxRows int
}

// Load reads .env (when present) and the process environment. Malformed
// durations and non-positive sizes fall back to their defaults. Call Validate
// before serving.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	r := reader{v}
	return &Config{
		Env:          strings.ToLower(strings.TrimSpace(v.GetString("ENV"))),
		Port:         v.GetInt("PORT"),
		APIPrefix:    strings.TrimRight(v.GetString("API_PREFIX"), "/"),
		Database:     r.database(),
		Redis:        r.redis(),
		JWT:          r.jwt(),
		CORS:         CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))},
		Log:          LogConfig{Level: v.GetString("LOG_LEVEL"), Format: v.GetString("LOG_FORMAT")},
		Cache:        CacheConfig{Enabled: v.GetBool("ENABLE_CACHE"), ListTTL: r.duration("LIST_CACHE_TTL", time.Minute)},
		Reports:      r.reports(),
		Documents:    r.documents(),
		Assistant:    r.assistant(),
		Pagination:   r.pagination(),
		Observations: r.observations(),
	}, nil
}

type reader struct {
	v *viper.Viper
}

func (r reader) duration(key string, fallback time.Duration) time.Duration {
	return parseDuration(r.v.GetString(key), fallback)
}

func (r reader) positive(key string, fallback int) int {
	return positiveOr(r.v.GetInt(key), fallback)
}

func (r reader) database() DatabaseConfig {
	v := r.v
	return DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    r.positive("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    r.positive("DB_MAX_IDLE_CONNS", 5),
		AutoMigrate:     v.GetBool("DB_AUTO_MIGRATE"),
		ConnectAttempts: r.positive("DB_CONNECT_ATTEMPTS", 5),
	}
}

func (r reader) redis() RedisConfig {
	v := r.v
	return RedisConfig{
		URL:         strings.TrimSpace(v.GetString("REDIS_URL")),
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PoolSize:    v.GetInt("REDIS_POOL_SIZE"),
		DialTimeout: r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
	}
}

func (r reader) jwt() JWTConfig {
	v := r.v
	return JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        r.duration("JWT_EXPIRATION", 24*time.Hour),
		RefreshExpiration: r.duration("REFRESH_TOKEN_EXPIRATION", 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
		SingleSession:     v.GetBool("AUTH_SINGLE_SESSION"),
		RefreshCookie:     v.GetBool("AUTH_REFRESH_COOKIE"),
	}
}

func (r reader) reports() ReportsConfig {
	v := r.v
	return ReportsConfig{
		Enabled:           v.GetBool("ENABLE_REPORTS"),
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      r.duration("REPORTS_SIGNED_URL_TTL", 24*time.Hour),
		CleanupInterval:   r.duration("REPORTS_CLEANUP_INTERVAL", time.Hour),
		WorkerConcurrency: r.positive("REPORTS_WORKER_CONCURRENCY", 1),
		WorkerRetries:     r.positive("REPORTS_WORKER_RETRIES", 3),
		RetryDelay:        r.duration("REPORTS_RETRY_DELAY", 5*time.Second),
	}
}

func (r reader) documents() DocumentsConfig {
	return DocumentsConfig{
		StorageDir:      r.v.GetString("DOCUMENTS_STORAGE_DIR"),
		SignedURLSecret: r.v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    r.duration("DOCUMENTS_SIGNED_URL_TTL", 7*24*time.Hour),
	}
}

func (r reader) assistant() AssistantConfig {
	return AssistantConfig{
		URL:     strings.TrimSpace(r.v.GetString("ASSISTANT_URL")),
		APIKey:  r.v.GetString("ASSISTANT_API_KEY"),
		Timeout: r.duration("ASSISTANT_TIMEOUT", 60*time.Second),
	}
}

func (r reader) pagination() PaginationConfig {
	return PaginationConfig{
		LessonPlanPageSize:  r.positive("LESSON_PLAN_PAGE_SIZE", 10),
		ObservationPageSize: r.positive("OBSERVATION_PAGE_SIZE", 5),
	}
}

func (r reader) observations() ObservationsConfig {
	return ObservationsConfig{
		ImportEnabled: r.v.GetBool("ENABLE_OBSERVATION_IMPORT"),
		ImportMaxRows: r.positive("OBSERVATION_IMPORT_MAX_ROWS", 500),
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
