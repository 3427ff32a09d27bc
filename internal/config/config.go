package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
	DBPath   string `mapstructure:"db_path"`   // used when DBDriver=sqlite
	DBDriver string `mapstructure:"db_driver"` // sqlite|postgres
	DBDsn    string `mapstructure:"db_dsn"`    // used when DBDriver=postgres (e.g., DATABASE_URL)

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// EncryptionKey is the key material credential secrets are sealed with. Required.
	EncryptionKey string `mapstructure:"encryption_key"`

	PresignedURLExpiration int   `mapstructure:"presigned_url_expiration"` // seconds
	MaxUploadSize          int64 `mapstructure:"max_upload_size"`          // bytes
	ListMaxKeys            int32 `mapstructure:"list_max_keys"`

	AuditRetentionDays int `mapstructure:"audit_retention_days"`
	AuditCleanupHour   int `mapstructure:"audit_cleanup_hour"`
	AuditQueueSize     int `mapstructure:"audit_queue_size"`

	AnalyticsCacheTTL   time.Duration `mapstructure:"analytics_cache_ttl"`
	AnalyticsBucketTopK int           `mapstructure:"analytics_bucket_top_k"`
	AnalyticsGlobalTopK int           `mapstructure:"analytics_global_top_k"`

	PrincipalHeader string `mapstructure:"principal_header"`
	// AdminUsers may change process-wide settings such as the log level.
	AdminUsers []string `mapstructure:"admin_users"`
}

// env names per key; the first one set wins
var envBindings = map[string][]string{
	"env":                      {"APP_ENV"},
	"http_port":                {"HTTP_PORT"},
	"db_path":                  {"DB_PATH"},
	"db_driver":                {"DB_DRIVER"},
	"db_dsn":                   {"DATABASE_URL", "DB_DSN"},
	"log_level":                {"LOG_LEVEL"},
	"log_json":                 {"LOG_JSON"},
	"encryption_key":           {"ENCRYPTION_KEY"},
	"presigned_url_expiration": {"PRESIGNED_URL_EXPIRATION"},
	"max_upload_size":          {"MAX_UPLOAD_SIZE"},
	"list_max_keys":            {"LIST_MAX_KEYS"},
	"audit_retention_days":     {"AUDIT_RETENTION_DAYS"},
	"audit_cleanup_hour":       {"AUDIT_CLEANUP_HOUR"},
	"audit_queue_size":         {"AUDIT_QUEUE_SIZE"},
	"analytics_cache_ttl":      {"ANALYTICS_CACHE_TTL"},
	"analytics_bucket_top_k":   {"ANALYTICS_BUCKET_TOP_K"},
	"analytics_global_top_k":   {"ANALYTICS_GLOBAL_TOP_K"},
	"principal_header":         {"PRINCIPAL_HEADER"},
	"admin_users":              {"ADMIN_USERS"},
}

// Load reads defaults, then the optional config file, then the environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("http_port", "8080")
	v.SetDefault("db_path", "data/s3keeper.db")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	v.SetDefault("encryption_key", "")

	v.SetDefault("presigned_url_expiration", 3600)
	v.SetDefault("max_upload_size", 104857600) // 100 MiB
	v.SetDefault("list_max_keys", 1000)

	v.SetDefault("audit_retention_days", 90)
	v.SetDefault("audit_cleanup_hour", 2)
	v.SetDefault("audit_queue_size", 1024)

	v.SetDefault("analytics_cache_ttl", "5m")
	v.SetDefault("analytics_bucket_top_k", 5)
	v.SetDefault("analytics_global_top_k", 10)

	v.SetDefault("principal_header", "X-Authenticated-User")
	v.SetDefault("admin_users", []string{})
}

func validate(cfg *Config) error {
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if strings.TrimSpace(cfg.EncryptionKey) == "" {
		return fmt.Errorf("encryption_key is required: set ENCRYPTION_KEY or encryption_key in the config file")
	}
	if cfg.HttpPort == "" {
		return fmt.Errorf("http_port must not be empty")
	}
	if cfg.PresignedURLExpiration <= 0 || cfg.PresignedURLExpiration > 7*24*3600 {
		return fmt.Errorf("presigned_url_expiration must be within 1..604800 seconds, got %d", cfg.PresignedURLExpiration)
	}
	if cfg.MaxUploadSize <= 0 {
		return fmt.Errorf("max_upload_size must be positive")
	}
	if cfg.ListMaxKeys <= 0 || cfg.ListMaxKeys > 1000 {
		return fmt.Errorf("list_max_keys must be within 1..1000, got %d", cfg.ListMaxKeys)
	}
	if cfg.AuditRetentionDays <= 0 {
		return fmt.Errorf("audit_retention_days must be positive")
	}
	if cfg.AuditCleanupHour < 0 || cfg.AuditCleanupHour > 23 {
		return fmt.Errorf("audit_cleanup_hour must be within 0..23, got %d", cfg.AuditCleanupHour)
	}
	if cfg.AuditQueueSize <= 0 {
		return fmt.Errorf("audit_queue_size must be positive")
	}
	if cfg.AnalyticsBucketTopK <= 0 || cfg.AnalyticsGlobalTopK <= 0 {
		return fmt.Errorf("analytics top-k sizes must be positive")
	}
	if cfg.AnalyticsCacheTTL < 0 {
		return fmt.Errorf("analytics_cache_ttl must not be negative")
	}
	if strings.TrimSpace(cfg.PrincipalHeader) == "" {
		return fmt.Errorf("principal_header must not be empty")
	}
	admins := cfg.AdminUsers[:0]
	for _, u := range cfg.AdminUsers {
		if u = strings.TrimSpace(u); u != "" {
			admins = append(admins, u)
		}
	}
	cfg.AdminUsers = admins
	return nil
}

// PresignExpiry returns the default presigned URL lifetime.
func (c *Config) PresignExpiry() time.Duration {
	return time.Duration(c.PresignedURLExpiration) * time.Second
}

func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}
