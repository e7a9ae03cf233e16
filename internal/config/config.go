package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort string `yaml:"server_port"`
	ServerHost string `yaml:"server_host"`

	// Database
	DatabaseURL  string `yaml:"database_url"`
	DatabaseType string `yaml:"database_type"` // "postgres" or "sqlite"

	// JWT
	JWTSecret     string `yaml:"jwt_secret"`
	JWTExpiration int    `yaml:"jwt_expiration"` // hours

	// Signing
	SigningTokenTTLDays int  `yaml:"signing_token_ttl_days"`
	EnforceSigningOrder bool `yaml:"enforce_signing_order"`

	// Share links
	ShareLinkDefaultDays     int           `yaml:"share_link_default_days"`
	ShareLinkMaxDays         int           `yaml:"share_link_max_days"`
	SharePasswordCost        int           `yaml:"share_password_cost"` // bcrypt cost
	SharePasswordMaxAttempts int           `yaml:"share_password_max_attempts"`
	SharePasswordLockout     time.Duration `yaml:"share_password_lockout"`
	ContractNumberPrefix     string        `yaml:"contract_number_prefix"`

	// Generation
	GenerationAPIKey  string        `yaml:"generation_api_key"`
	GenerationModel   string        `yaml:"generation_model"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	// Cache
	RedisAddr    string        `yaml:"redis_addr"`
	ViewCacheTTL time.Duration `yaml:"view_cache_ttl"`

	// Storage
	StorageDriver  string `yaml:"storage_driver"` // "local" or "minio"
	UploadDir      string `yaml:"upload_dir"`
	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	// Audit
	AuditPageSize    int `yaml:"audit_page_size"`
	AuditMaxPageSize int `yaml:"audit_max_page_size"`

	// Email
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Rate limiting (public surface)
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// App
	AppURL  string `yaml:"app_url"`
	AppName string `yaml:"app_name"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() *Config {
	return &Config{
		ServerPort: "8080",
		ServerHost: "0.0.0.0",

		DatabaseURL:  "contractdesk.db",
		DatabaseType: "sqlite",

		JWTSecret:     "your-super-secret-key-change-in-production",
		JWTExpiration: 72,

		SigningTokenTTLDays: 30,

		ShareLinkDefaultDays:     7,
		ShareLinkMaxDays:         90,
		SharePasswordCost:        10,
		SharePasswordMaxAttempts: 5,
		SharePasswordLockout:     15 * time.Minute,
		ContractNumberPrefix:     "CTR",

		GenerationModel:   "gemini-1.5-flash",
		GenerationTimeout: 90 * time.Second,

		ViewCacheTTL: 5 * time.Minute,

		StorageDriver: "local",
		UploadDir:     "./uploads",
		MinioBucket:   "contracts",

		AuditPageSize:    200,
		AuditMaxPageSize: 1000,

		SMTPHost:  "",
		SMTPPort:  587,
		FromEmail: "noreply@contractdesk.local",

		LogLevel:  "info",
		LogFormat: "text",

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,

		AppURL:  "http://localhost:8080",
		AppName: "ContractDesk",
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and finally environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	// Server
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ServerHost = getEnv("SERVER_HOST", c.ServerHost)

	// Database
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.DatabaseType = getEnv("DATABASE_TYPE", c.DatabaseType)

	// JWT
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiration = getEnvInt("JWT_EXPIRATION", c.JWTExpiration)

	// Signing
	c.SigningTokenTTLDays = getEnvInt("SIGNING_TOKEN_TTL_DAYS", c.SigningTokenTTLDays)
	c.EnforceSigningOrder = getEnvBool("ENFORCE_SIGNING_ORDER", c.EnforceSigningOrder)

	// Share links
	c.ShareLinkDefaultDays = getEnvInt("SHARE_LINK_DEFAULT_DAYS", c.ShareLinkDefaultDays)
	c.ShareLinkMaxDays = getEnvInt("SHARE_LINK_MAX_DAYS", c.ShareLinkMaxDays)
	c.SharePasswordCost = getEnvInt("SHARE_PASSWORD_COST", c.SharePasswordCost)
	c.SharePasswordMaxAttempts = getEnvInt("SHARE_PASSWORD_MAX_ATTEMPTS", c.SharePasswordMaxAttempts)
	c.SharePasswordLockout = getEnvDuration("SHARE_PASSWORD_LOCKOUT", c.SharePasswordLockout)
	c.ContractNumberPrefix = getEnv("CONTRACT_NUMBER_PREFIX", c.ContractNumberPrefix)

	// Generation
	c.GenerationAPIKey = getEnv("GENERATION_API_KEY", c.GenerationAPIKey)
	c.GenerationModel = getEnv("GENERATION_MODEL", c.GenerationModel)
	c.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", c.GenerationTimeout)

	// Cache
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.ViewCacheTTL = getEnvDuration("VIEW_CACHE_TTL", c.ViewCacheTTL)

	// Storage
	c.StorageDriver = getEnv("STORAGE_DRIVER", c.StorageDriver)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.MinioEndpoint = getEnv("MINIO_ENDPOINT", c.MinioEndpoint)
	c.MinioAccessKey = getEnv("MINIO_ACCESS_KEY", c.MinioAccessKey)
	c.MinioSecretKey = getEnv("MINIO_SECRET_KEY", c.MinioSecretKey)
	c.MinioBucket = getEnv("MINIO_BUCKET", c.MinioBucket)
	c.MinioUseSSL = getEnvBool("MINIO_USE_SSL", c.MinioUseSSL)

	// Audit
	c.AuditPageSize = getEnvInt("AUDIT_PAGE_SIZE", c.AuditPageSize)
	c.AuditMaxPageSize = getEnvInt("AUDIT_MAX_PAGE_SIZE", c.AuditMaxPageSize)

	// Email
	c.SMTPHost = getEnv("SMTP_HOST", c.SMTPHost)
	c.SMTPPort = getEnvInt("SMTP_PORT", c.SMTPPort)
	c.SMTPUser = getEnv("SMTP_USER", c.SMTPUser)
	c.SMTPPassword = getEnv("SMTP_PASSWORD", c.SMTPPassword)
	c.FromEmail = getEnv("FROM_EMAIL", c.FromEmail)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	// Rate limiting
	c.RateLimitRequests = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// App
	c.AppURL = strings.TrimRight(getEnv("APP_URL", c.AppURL), "/")
	c.AppName = getEnv("APP_NAME", c.AppName)
}

// SigningTokenTTL is the validity window of a signer's token.
func (c *Config) SigningTokenTTL() time.Duration {
	return time.Duration(c.SigningTokenTTLDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
