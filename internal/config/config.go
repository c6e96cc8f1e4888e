package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const Production = "production"

// Notification transports.
const (
	TransportInProcess = "inprocess"
	TransportRabbitMQ  = "rabbitmq"
	TransportNone      = "none"
)

// SMTP transport security.
const (
	SMTPTLSImplicit = "implicit"
	SMTPTLSStartTLS = "starttls"
	SMTPTLSNone     = "none"
)

type DatabaseOptions struct {
	URL          string `env:"DATABASE_URL" envDefault:"postgres://helpdesk:helpdesk@db:5432/helpdesk?sslmode=disable"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
}

type JWTOptions struct {
	Secret string        `env:"JWT_SECRET"`
	Issuer string        `env:"JWT_ISSUER" envDefault:"helpdesk"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

type NotifyOptions struct {
	Transport   string `env:"NOTIFY_TRANSPORT" envDefault:"inprocess"`
	QueueSize   int    `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
	MaxAttempts int    `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"3"`
}

type RabbitMQOptions struct {
	URL      string `env:"RABBITMQ_URL"`
	Exchange string `env:"RABBITMQ_NOTIFY_EXCHANGE" envDefault:"helpdesk.notifications"`
	Queue    string `env:"RABBITMQ_NOTIFY_QUEUE" envDefault:"helpdesk.notifications.email"`
}

type SMTPOptions struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"465"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASSWORD"`
	TLS      string `env:"SMTP_TLS" envDefault:"implicit"`
	From     string `env:"MAIL_FROM" envDefault:"Online Help Desk <noreply@helpdesk.local>"`
}

type LogOptions struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Config holds application configuration values sourced from environment variables.
type Config struct {
	HTTPPort    string `env:"API_HTTP_PORT" envDefault:":8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	Database DatabaseOptions
	JWT      JWTOptions
	Notify   NotifyOptions
	RabbitMQ RabbitMQOptions
	SMTP     SMTPOptions
	Log      LogOptions
}

// LoadEnv loads the dotenv files that exist, leaving variables already set in
// the environment untouched. It returns how many files were read.
func LoadEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), errors.Wrap(godotenv.Load(existing...), "load dotenv")
}

// Load reads .env files when present, parses the environment and validates
// the result.
func Load() (Config, error) {
	if _, err := LoadEnv(".env", "../.env"); err != nil {
		return Config{}, err
	}
	return Parse()
}

// Parse reads the environment without touching dotenv files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	cfg.Notify.Transport = strings.ToLower(strings.TrimSpace(cfg.Notify.Transport))
	cfg.SMTP.TLS = strings.ToLower(strings.TrimSpace(cfg.SMTP.TLS))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks combinations the struct tags cannot express.
func (c *Config) Validate() error {
	if c.AppEnv == Production && c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.JWT.TTL <= 0 {
		return errors.Errorf("JWT_TTL must be positive, got %s", c.JWT.TTL)
	}
	switch c.Notify.Transport {
	case TransportInProcess, TransportNone:
	case TransportRabbitMQ:
		if c.RabbitMQ.URL == "" {
			return errors.New("RABBITMQ_URL is required when NOTIFY_TRANSPORT is 'rabbitmq'")
		}
	default:
		return errors.Errorf("NOTIFY_TRANSPORT must be 'inprocess', 'rabbitmq' or 'none', got '%s'", c.Notify.Transport)
	}
	if c.Notify.QueueSize < 1 || c.Notify.MaxAttempts < 1 {
		return errors.New("NOTIFY_QUEUE_SIZE and NOTIFY_MAX_ATTEMPTS must be at least 1")
	}
	switch c.SMTP.TLS {
	case SMTPTLSImplicit, SMTPTLSStartTLS, SMTPTLSNone:
	default:
		return errors.Errorf("SMTP_TLS must be 'implicit', 'starttls' or 'none', got '%s'", c.SMTP.TLS)
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return errors.Errorf("SMTP_PORT must be between 1 and 65535, got %d", c.SMTP.Port)
	}
	return nil
}

// JWTSecret returns the signing secret. Outside production a fixed
// development secret is used when none is configured.
func (c *Config) JWTSecret() string {
	if c.JWT.Secret == "" {
		return "helpdesk-dev-secret"
	}
	return c.JWT.Secret
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == Production
}
