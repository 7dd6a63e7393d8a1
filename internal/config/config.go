package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	StoreDriver        string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir      string        `mapstructure:"MIGRATIONS_DIR"`
	LocalStore         string        `mapstructure:"LOCAL_STORE"`
	LocalStoreDir      string        `mapstructure:"LOCAL_STORE_DIR"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	NATSURL            string        `mapstructure:"NATS_URL"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	SessionTTL         time.Duration `mapstructure:"SESSION_TTL"`
	AllowBypass        bool          `mapstructure:"ALLOW_BYPASS"`
	BypassEmail        string        `mapstructure:"BYPASS_EMAIL"`
	BypassPassword     string        `mapstructure:"BYPASS_PASSWORD"`
	CheckRetryDelay    time.Duration `mapstructure:"CHECK_RETRY_DELAY"`
	BreakerMaxFailures uint32        `mapstructure:"BREAKER_MAX_FAILURES"`
	BreakerTimeout     time.Duration `mapstructure:"BREAKER_TIMEOUT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	LogFile            string        `mapstructure:"LOG_FILE"`
	LogMaxSizeMB       int           `mapstructure:"LOG_MAX_SIZE_MB"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	DefaultPhoneRegion string        `mapstructure:"DEFAULT_PHONE_REGION"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MIGRATIONS_DIR", "LOCAL_STORE", "LOCAL_STORE_DIR", "REDIS_URL", "NATS_URL",
	"JWT_SECRET", "SESSION_TTL", "ALLOW_BYPASS", "BYPASS_EMAIL", "BYPASS_PASSWORD",
	"CHECK_RETRY_DELAY", "BREAKER_MAX_FAILURES", "BREAKER_TIMEOUT",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "CORS_ORIGINS", "DEFAULT_PHONE_REGION",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("LOCAL_STORE", "file")
	v.SetDefault("LOCAL_STORE_DIR", ".crm-local")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("ALLOW_BYPASS", true)
	v.SetDefault("BYPASS_EMAIL", "admin@example.com")
	v.SetDefault("BYPASS_PASSWORD", "demo")
	v.SetDefault("CHECK_RETRY_DELAY", "1s")
	v.SetDefault("BREAKER_MAX_FAILURES", 5)
	v.SetDefault("BREAKER_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 50)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_PHONE_REGION", "US")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AllowBypass {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Admin bypass is enabled (ALLOW_BYPASS=true).")
		log.Printf("WARNING: Signing in as %s grants a fabricated admin session.", cfg.BypassEmail)
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"memory\", got %q", c.StoreDriver)
	}

	switch c.LocalStore {
	case "memory", "file":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCAL_STORE is \"redis\"")
		}
	default:
		return fmt.Errorf("LOCAL_STORE must be \"memory\", \"file\", or \"redis\", got %q", c.LocalStore)
	}

	if c.IsProduction() {
		if c.AllowBypass {
			return fmt.Errorf("ALLOW_BYPASS must be false in production")
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.StoreDriver == "memory" {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	}

	if c.CheckRetryDelay < 0 {
		return fmt.Errorf("CHECK_RETRY_DELAY must not be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	return nil
}

// SigningKey returns the HMAC key for session tokens. Development falls back
// to a fixed key so a fresh checkout can sign in without extra setup.
func (c *Config) SigningKey() []byte {
	if c.JWTSecret == "" && !c.IsProduction() {
		return []byte("crm-development-signing-key-change-me")
	}
	return []byte(c.JWTSecret)
}
