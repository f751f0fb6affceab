package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Stores      StoresConfig
	Conversion  ConversionConfig
	Transfer    TransferConfig
	Analytics   AnalyticsConfig
	Transcripts TranscriptsConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig is used only to validate the actor token attached to requests;
// token issuance lives in the identity service.
type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StoresConfig bounds every external-store call.
type StoresConfig struct {
	OpTimeout    time.Duration
	ReadRetries  int
	RetryBackoff time.Duration
}

// ConversionConfig tunes the rule cache and value matching.
type ConversionConfig struct {
	RuleCacheTTL time.Duration
	MatchEpsilon float64
}

// TransferConfig governs the homologation orchestrator.
type TransferConfig struct {
	Parallelism int
}

// AnalyticsConfig gates the pre-aggregated counter endpoints.
type AnalyticsConfig struct {
	Enabled bool
}

// TranscriptsConfig gates transcript generation and export.
type TranscriptsConfig struct {
	Enabled bool
}

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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Stores = StoresConfig{
		OpTimeout:    parseDuration(v.GetString("STORE_OP_TIMEOUT"), 5*time.Second),
		ReadRetries:  v.GetInt("STORE_READ_RETRIES"),
		RetryBackoff: parseDuration(v.GetString("STORE_RETRY_BACKOFF"), 100*time.Millisecond),
	}

	cfg.Conversion = ConversionConfig{
		RuleCacheTTL: parseDuration(v.GetString("RULE_CACHE_TTL"), 7*24*time.Hour),
		MatchEpsilon: v.GetFloat64("CONVERSION_MATCH_EPSILON"),
	}

	cfg.Transfer = TransferConfig{
		Parallelism: v.GetInt("TRANSFER_PARALLELISM"),
	}

	cfg.Analytics = AnalyticsConfig{
		Enabled: v.GetBool("ENABLE_ANALYTICS"),
	}

	cfg.Transcripts = TranscriptsConfig{
		Enabled: v.GetBool("ENABLE_TRANSCRIPTS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "edugrade")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_OP_TIMEOUT", "5s")
	v.SetDefault("STORE_READ_RETRIES", 3)
	v.SetDefault("STORE_RETRY_BACKOFF", "100ms")

	v.SetDefault("RULE_CACHE_TTL", "168h")
	v.SetDefault("CONVERSION_MATCH_EPSILON", 0.001)

	v.SetDefault("TRANSFER_PARALLELISM", 4)

	v.SetDefault("ENABLE_ANALYTICS", true)
	v.SetDefault("ENABLE_TRANSCRIPTS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
