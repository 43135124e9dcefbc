package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// HMAC secret for bearer token verification. Required; must be at
	// least 32 bytes.
	TokenSecret string

	// Display-name seed for the in-memory mode, "id=name" pairs joined
	// with commas. Ignored when a database is configured.
	DevProfiles string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("IDEAMART_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("IDEAMART_LOG_LEVEL", "info"),
		LogFormat: EnvString("IDEAMART_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("IDEAMART_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("IDEAMART_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("IDEAMART_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("IDEAMART_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("IDEAMART_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("IDEAMART_DATABASE_URL", ""),
		DBSchema:    EnvString("IDEAMART_DB_SCHEMA", "ideamart"),
		DBMaxConns:  EnvInt32("IDEAMART_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("IDEAMART_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("IDEAMART_READINESS_REQUIRE_DB", false),

		TokenSecret: EnvString("IDEAMART_TOKEN_SECRET", ""),

		DevProfiles: EnvString("IDEAMART_DEV_PROFILES", ""),
	}
}
