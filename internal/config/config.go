package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is built once at startup and handed to every constructor.
type Config struct {
	Mode       string         `mapstructure:"mode"`
	PublicURL  string         `mapstructure:"public_url"`
	InviteTTL  time.Duration  `mapstructure:"invite_ttl"`
	StaticPath string         `mapstructure:"static_path"`
	Server     ServerConfig   `mapstructure:"server"`
	Storage    StorageConfig  `mapstructure:"storage"`
	Database   DatabaseConfig `mapstructure:"database"`
	Redis      RedisConfig    `mapstructure:"redis"`
	JWT        JWTConfig      `mapstructure:"jwt"`
	Ledger     LedgerConfig   `mapstructure:"ledger"`
	Hub        HubConfig      `mapstructure:"hub"`
	Payments   PaymentsConfig `mapstructure:"payments"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// StorageConfig selects the ledger backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey   string `mapstructure:"secret_key"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

// Expiry is both the token lifetime and how long a revoked token stays
// blacklisted.
func (c JWTConfig) Expiry() time.Duration {
	return time.Duration(c.ExpiryHours) * time.Hour
}

type LedgerConfig struct {
	CreatorRate       float64       `mapstructure:"creator_rate"`
	WithdrawThreshold float64       `mapstructure:"withdraw_threshold"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
}

// Rate returns the creator share of a room fee.
func (c LedgerConfig) Rate() decimal.Decimal {
	return decimal.NewFromFloat(c.CreatorRate)
}

func (c LedgerConfig) Threshold() decimal.Decimal {
	return decimal.NewFromFloat(c.WithdrawThreshold)
}

type HubConfig struct {
	Broadcaster   string        `mapstructure:"broadcaster"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	FramesPerSec  float64       `mapstructure:"frames_per_sec"`
	FrameBurst    int           `mapstructure:"frame_burst"`
	MaxSignalSize int           `mapstructure:"max_signal_size"`
}

type PaymentsConfig struct {
	WebhookSecret string          `mapstructure:"webhook_secret"`
	Plans         []PlanConfig    `mapstructure:"plans"`
	Packages      []PackageConfig `mapstructure:"packages"`
}

// PlanConfig is a subscription plan; an active subscription waives room fees.
type PlanConfig struct {
	ID           string  `mapstructure:"id" json:"id"`
	Name         string  `mapstructure:"name" json:"name"`
	PlanType     string  `mapstructure:"plan_type" json:"plan_type"`
	Price        float64 `mapstructure:"price" json:"price"`
	DurationDays int     `mapstructure:"duration_days" json:"duration_days"`
}

type PackageConfig struct {
	ID      string  `mapstructure:"id" json:"id"`
	Name    string  `mapstructure:"name" json:"name"`
	Credits int64   `mapstructure:"credits" json:"credit_amount"`
	Price   float64 `mapstructure:"price" json:"price"`
}

// Plan looks up a plan by id.
func (c PaymentsConfig) Plan(id string) (PlanConfig, bool) {
	for _, p := range c.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return PlanConfig{}, false
}

func (c PaymentsConfig) Package(id string) (PackageConfig, bool) {
	for _, p := range c.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return PackageConfig{}, false
}

var envBindings = map[string]string{
	"mode":        "APP_MODE",
	"public_url":  "PUBLIC_URL",
	"static_path": "STATIC_PATH",

	"server.port":            "PORT",
	"server.allowed_origins": "ALLOWED_ORIGINS",

	"storage.driver": "STORAGE_DRIVER",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",
	"database.migrate":  "DATABASE_MIGRATE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret_key":   "JWT_SECRET_KEY",
	"jwt.expiry_hours": "JWT_EXPIRY_HOURS",

	"ledger.creator_rate":       "LEDGER_CREATOR_RATE",
	"ledger.withdraw_threshold": "LEDGER_WITHDRAW_THRESHOLD",
	"ledger.lock_timeout":       "LEDGER_LOCK_TIMEOUT",

	"hub.broadcaster": "HUB_BROADCASTER",

	"payments.webhook_secret": "PAYMENT_WEBHOOK_SECRET",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("invite_ttl", 24*time.Hour)
	v.SetDefault("static_path", "./web")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "debates")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("ledger.creator_rate", 0.75)
	v.SetDefault("ledger.withdraw_threshold", 0.01)
	v.SetDefault("ledger.lock_timeout", 5*time.Second)

	v.SetDefault("hub.broadcaster", "memory")
	v.SetDefault("hub.send_buffer", 64)
	v.SetDefault("hub.read_limit", 65536)
	v.SetDefault("hub.write_wait", 10*time.Second)
	v.SetDefault("hub.pong_wait", 60*time.Second)
	v.SetDefault("hub.ping_period", 54*time.Second)
	v.SetDefault("hub.frames_per_sec", 20.0)
	v.SetDefault("hub.frame_burst", 40)
	v.SetDefault("hub.max_signal_size", 16384)

	v.SetDefault("payments.webhook_secret", "")
	v.SetDefault("payments.plans", []map[string]any{
		{"id": "monthly", "name": "Basic Monthly", "plan_type": "M", "price": 9.99, "duration_days": 30},
		{"id": "annual", "name": "Premium Annual", "plan_type": "A", "price": 99.0, "duration_days": 365},
	})
	v.SetDefault("payments.packages", []map[string]any{
		{"id": "small", "name": "Small Pack", "credits": 50, "price": 4.99},
		{"id": "mega", "name": "Mega Pack", "credits": 500, "price": 39.99},
	})
}

// Load reads .env (if present) and the environment into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
		} else {
			// .env entries arrive as flat lowercase keys; lift them under their
			// dotted names below any real environment variable.
			for key, env := range envBindings {
				if flat := strings.ToLower(env); v.InConfig(flat) {
					v.SetDefault(key, v.Get(flat))
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Ledger.CreatorRate < 0 || c.Ledger.CreatorRate > 1 {
		return fmt.Errorf("ledger.creator_rate must be within [0,1], got %v", c.Ledger.CreatorRate)
	}
	if c.Ledger.LockTimeout <= 0 {
		return fmt.Errorf("ledger.lock_timeout must be positive")
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Hub.Broadcaster {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown hub.broadcaster %q", c.Hub.Broadcaster)
	}
	return nil
}
