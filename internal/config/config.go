package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Gateway    GatewayConfig
	RateLimit  RateLimitConfig
	Retry      RetryConfig
	Dedup      DedupConfig
	Retention  RetentionConfig
	Storage    StorageConfig
	Preprocess PreprocessConfig
	Whisper    WhisperConfig
	Summarizer SummarizerConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Path string
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

type RetryConfig struct {
	MaxAttempts  int
	BaseDelayMS  int
	MaxDelayMS   int
}

type DedupConfig struct {
	TTLHours         int
	InflightTTLHours int
}

type RetentionConfig struct {
	CompletedHours     int
	FailedHours        int
	AuditDays          int
	SweepIntervalMins  int
	CacheTTLHours      int
}

type StorageConfig struct {
	Dir           string
	MaxFileSizeMB int
}

type PreprocessConfig struct {
	ServiceURL string
	Timeout    int // seconds
	Denoise    bool
}

type WhisperConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type SummarizerConfig struct {
	BaseURL string
	Model   string
	Timeout int // seconds
}

func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("database.path", "DATABASE_PATH")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("ratelimit.requests", "RATE_LIMIT_REQUESTS")
	_ = viper.BindEnv("ratelimit.window_seconds", "RATE_LIMIT_WINDOW")
	_ = viper.BindEnv("retry.max_attempts", "RETRY_MAX_ATTEMPTS")
	_ = viper.BindEnv("retry.base_delay_ms", "RETRY_BASE_DELAY_MS")
	_ = viper.BindEnv("retry.max_delay_ms", "RETRY_MAX_DELAY_MS")
	_ = viper.BindEnv("dedup.ttl_hours", "DEDUP_TTL_HOURS")
	_ = viper.BindEnv("dedup.inflight_ttl_hours", "DEDUP_INFLIGHT_TTL_HOURS")
	_ = viper.BindEnv("retention.completed_hours", "RETENTION_COMPLETED_HOURS")
	_ = viper.BindEnv("retention.failed_hours", "RETENTION_FAILED_HOURS")
	_ = viper.BindEnv("retention.audit_days", "RETENTION_AUDIT_DAYS")
	_ = viper.BindEnv("retention.sweep_interval_mins", "RETENTION_SWEEP_INTERVAL_MINS")
	_ = viper.BindEnv("retention.cache_ttl_hours", "CACHE_TTL_HOURS")
	_ = viper.BindEnv("storage.dir", "AUDIO_STORAGE_DIR")
	_ = viper.BindEnv("storage.max_file_size_mb", "MAX_FILE_SIZE_MB")
	_ = viper.BindEnv("preprocess.service_url", "PREPROCESS_SERVICE_URL")
	_ = viper.BindEnv("preprocess.timeout", "PREPROCESS_TIMEOUT")
	_ = viper.BindEnv("preprocess.denoise", "PREPROCESS_DENOISE")
	_ = viper.BindEnv("whisper.service_url", "WHISPER_SERVICE_URL")
	_ = viper.BindEnv("whisper.timeout", "WHISPER_TIMEOUT")
	_ = viper.BindEnv("summarizer.base_url", "SUMMARIZER_BASE_URL")
	_ = viper.BindEnv("summarizer.model", "SUMMARIZER_MODEL")
	_ = viper.BindEnv("summarizer.timeout", "SUMMARIZER_TIMEOUT")

	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("database.path", "data/cogniscribe.db")
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("ratelimit.requests", 10)
	viper.SetDefault("ratelimit.window_seconds", 60)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay_ms", 1000)
	viper.SetDefault("retry.max_delay_ms", 60000)
	viper.SetDefault("dedup.ttl_hours", 168) // 7 days
	viper.SetDefault("dedup.inflight_ttl_hours", 2)
	viper.SetDefault("retention.completed_hours", 24)
	viper.SetDefault("retention.failed_hours", 6)
	viper.SetDefault("retention.audit_days", 90)
	viper.SetDefault("retention.sweep_interval_mins", 60)
	viper.SetDefault("retention.cache_ttl_hours", 24)
	viper.SetDefault("storage.dir", "data/audio")
	viper.SetDefault("storage.max_file_size_mb", 200)
	viper.SetDefault("preprocess.service_url", "http://localhost:8084")
	viper.SetDefault("preprocess.timeout", 120)
	viper.SetDefault("preprocess.denoise", true)
	viper.SetDefault("whisper.service_url", "http://localhost:8085")
	viper.SetDefault("whisper.timeout", 600)
	viper.SetDefault("summarizer.base_url", "http://localhost:11434")
	viper.SetDefault("summarizer.model", "llama3.1:8b")
	viper.SetDefault("summarizer.timeout", 300)

	// Config file is optional
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			Requests:      viper.GetInt("ratelimit.requests"),
			WindowSeconds: viper.GetInt("ratelimit.window_seconds"),
		},
		Retry: RetryConfig{
			MaxAttempts: viper.GetInt("retry.max_attempts"),
			BaseDelayMS: viper.GetInt("retry.base_delay_ms"),
			MaxDelayMS:  viper.GetInt("retry.max_delay_ms"),
		},
		Dedup: DedupConfig{
			TTLHours:         viper.GetInt("dedup.ttl_hours"),
			InflightTTLHours: viper.GetInt("dedup.inflight_ttl_hours"),
		},
		Retention: RetentionConfig{
			CompletedHours:    viper.GetInt("retention.completed_hours"),
			FailedHours:       viper.GetInt("retention.failed_hours"),
			AuditDays:         viper.GetInt("retention.audit_days"),
			SweepIntervalMins: viper.GetInt("retention.sweep_interval_mins"),
			CacheTTLHours:     viper.GetInt("retention.cache_ttl_hours"),
		},
		Storage: StorageConfig{
			Dir:           viper.GetString("storage.dir"),
			MaxFileSizeMB: viper.GetInt("storage.max_file_size_mb"),
		},
		Preprocess: PreprocessConfig{
			ServiceURL: viper.GetString("preprocess.service_url"),
			Timeout:    viper.GetInt("preprocess.timeout"),
			Denoise:    viper.GetBool("preprocess.denoise"),
		},
		Whisper: WhisperConfig{
			ServiceURL: viper.GetString("whisper.service_url"),
			Timeout:    viper.GetInt("whisper.timeout"),
		},
		Summarizer: SummarizerConfig{
			BaseURL: viper.GetString("summarizer.base_url"),
			Model:   viper.GetString("summarizer.model"),
			Timeout: viper.GetInt("summarizer.timeout"),
		},
	}

	return cfg, nil
}
