package config

import (
	"os"
	"strconv"
	"time"
)

// Default values applied when the corresponding environment variable is
// unset.
const (
	DefaultListenAddr        = ":8080"
	DefaultGitHubBaseURL     = "https://api.github.com/"
	DefaultScanConcurrency   = 5
	DefaultScanInterval      = 6 * time.Hour
	DefaultMaxConcurrent     = 10
	DefaultRequestsPerSecond = 15
	DefaultMaxAttempts       = 4
	DefaultCallTimeout       = 30 * time.Second
	DefaultMaxRateWait       = 2 * time.Minute
	DefaultLowWaterMark      = 100
	DefaultCooldown          = 5 * time.Second
	DefaultMemoryTTL         = 5 * time.Minute
	DefaultDurableTTL        = time.Hour
	DefaultTokenMargin       = 60 * time.Second
	DefaultPartialThreshold  = 60
)

// GitHubConfig holds the GitHub App credential and endpoint settings. The
// private key is always read from a file path supplied by the secret-store
// collaborator, never inline.
type GitHubConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	BaseURL        string
	WebhookSecret  string
}

// ExecutorConfig bounds and shapes upstream API calls.
type ExecutorConfig struct {
	MaxConcurrent     int64
	RequestsPerSecond float64
	MaxAttempts       int
	CallTimeout       time.Duration
	MaxRateLimitWait  time.Duration
	LowWaterMark      int
	Cooldown          time.Duration
}

// CacheConfig controls the two cache tiers. An empty RedisAddr disables
// the durable tier; the cache then runs on the in-process tier alone.
type CacheConfig struct {
	MemoryTTL     time.Duration
	DurableTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// StoreConfig holds the Postgres connection settings for the result store.
type StoreConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Config is the full service configuration, assembled from environment
// variables plus the YAML workload registry and rule-set files.
type Config struct {
	ListenAddr   string
	GitHub       GitHubConfig
	Executor     ExecutorConfig
	Cache        CacheConfig
	Store        StoreConfig
	RegistryPath string
	RulesDir     string

	ScanConcurrency int
	ScanInterval    time.Duration
	TokenMargin     time.Duration
}

// Load assembles the configuration from the environment.
func Load() *Config {
	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", DefaultListenAddr),
		GitHub: GitHubConfig{
			AppID:          getEnvInt64("GITHUB_APP_ID", 0),
			InstallationID: getEnvInt64("GITHUB_INSTALLATION_ID", 0),
			PrivateKeyPath: getEnv("GITHUB_APP_KEY_PATH", "/app/keys/github.pem"),
			BaseURL:        getEnv("GITHUB_BASE_URL", DefaultGitHubBaseURL),
			WebhookSecret:  getEnv("GITHUB_WEBHOOK_SECRET", ""),
		},
		Executor: ExecutorConfig{
			MaxConcurrent:     getEnvInt64("EXECUTOR_MAX_CONCURRENT", DefaultMaxConcurrent),
			RequestsPerSecond: float64(getEnvInt("EXECUTOR_REQUESTS_PER_SECOND", DefaultRequestsPerSecond)),
			MaxAttempts:       getEnvInt("EXECUTOR_MAX_ATTEMPTS", DefaultMaxAttempts),
			CallTimeout:       getEnvDuration("EXECUTOR_CALL_TIMEOUT", DefaultCallTimeout),
			MaxRateLimitWait:  getEnvDuration("EXECUTOR_MAX_RATE_WAIT", DefaultMaxRateWait),
			LowWaterMark:      getEnvInt("EXECUTOR_LOW_WATER_MARK", DefaultLowWaterMark),
			Cooldown:          getEnvDuration("EXECUTOR_COOLDOWN", DefaultCooldown),
		},
		Cache: CacheConfig{
			MemoryTTL:     getEnvDuration("CACHE_MEMORY_TTL", DefaultMemoryTTL),
			DurableTTL:    getEnvDuration("CACHE_DURABLE_TTL", DefaultDurableTTL),
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
		},
		Store: StoreConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "governor"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "governor"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RegistryPath:    getEnv("WORKLOAD_REGISTRY_PATH", "/app/config/workloads.yaml"),
		RulesDir:        getEnv("RULES_DIR", "/app/config/rules"),
		ScanConcurrency: getEnvInt("SCAN_CONCURRENCY", DefaultScanConcurrency),
		ScanInterval:    getEnvDuration("SCAN_INTERVAL", DefaultScanInterval),
		TokenMargin:     getEnvDuration("TOKEN_SAFETY_MARGIN", DefaultTokenMargin),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
