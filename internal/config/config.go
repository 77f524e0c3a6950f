package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries all process configuration. Load reads the environment once
// at startup; Validate turns missing or malformed security material into a
// fatal error before any request is served.
type Config struct {
	ServerAddr      string
	ShutdownTimeout time.Duration

	DatabaseURL string
	RedisAddr   string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenPepper string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	EncryptionKey string
	TOTPIssuer    string

	BootstrapAdminEmail        string
	BootstrapAdminPasswordHash string
	BootstrapAdminID           string
	BootstrapAdminRole         string
	BootstrapAdminWorkspaceID  string

	MaxSessions     int
	SweepInterval   time.Duration
	StoreTimeout    time.Duration
	AuditBufferSize int

	LoginRateLimit    int
	LoginRateWindow   time.Duration
	TwoFARateLimit    int
	TwoFARateWindow   time.Duration
	RefreshRateLimit  int
	RefreshRateWindow time.Duration
	APIRateLimitRPM   int

	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:      getEnv("SERVER_ADDR", ":8080"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getEnv("JWT_ISSUER", "erp-auth"),
		JWTAudience: getEnv("JWT_AUDIENCE", "erp-admin"),
		TokenPepper: os.Getenv("TOKEN_PEPPER"),
		AccessTTL:   getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:  getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		TOTPIssuer:    getEnv("TOTP_ISSUER", "ERP Admin"),

		BootstrapAdminEmail:        os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
		BootstrapAdminPasswordHash: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD_HASH"),
		BootstrapAdminID:           getEnv("BOOTSTRAP_ADMIN_ID", "admin"),
		BootstrapAdminRole:         getEnv("BOOTSTRAP_ADMIN_ROLE", "admin"),
		BootstrapAdminWorkspaceID:  getEnv("BOOTSTRAP_ADMIN_WORKSPACE_ID", "default"),

		MaxSessions:     getInt("MAX_SESSIONS_PER_USER", 10),
		SweepInterval:   getDuration("SWEEP_INTERVAL", 15*time.Minute),
		StoreTimeout:    getDuration("STORE_TIMEOUT", 5*time.Second),
		AuditBufferSize: getInt("AUDIT_BUFFER_SIZE", 256),

		LoginRateLimit:    getInt("LOGIN_RATE_LIMIT", 5),
		LoginRateWindow:   getDuration("LOGIN_RATE_WINDOW", 15*time.Minute),
		TwoFARateLimit:    getInt("TWOFA_RATE_LIMIT", 10),
		TwoFARateWindow:   getDuration("TWOFA_RATE_WINDOW", 15*time.Minute),
		RefreshRateLimit:  getInt("REFRESH_RATE_LIMIT", 30),
		RefreshRateWindow: getDuration("REFRESH_RATE_WINDOW", 15*time.Minute),
		APIRateLimitRPM:   getInt("API_RATE_LIMIT_RPM", 100),

		OTELMetricsEnabled:        getBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        getBool("OTEL_TRACING_ENABLED", false),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "erp-auth"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "development"),
		OTELMetricsExportInterval: getDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	} else if len(c.JWTSecret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 characters")
	}
	if c.EncryptionKey == "" {
		problems = append(problems, "ENCRYPTION_KEY is required")
	} else if raw, err := hex.DecodeString(strings.TrimSpace(c.EncryptionKey)); err != nil || len(raw) != 32 {
		problems = append(problems, "ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}
	if c.TokenPepper == "" {
		problems = append(problems, "TOKEN_PEPPER is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= c.AccessTTL {
		problems = append(problems, "refresh TTL must exceed access TTL")
	}
	if len(problems) > 0 {
		return fmt.Errorf("validate config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
