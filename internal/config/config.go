// Package config builds the process configuration once at start-up.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// CONFIG_FILE, then environment variables. Nothing else in the module reads the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"erp/ecommerce/storepro/internal/domain"
)

type HTTP struct {
	Port              string        `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins       []string      `yaml:"corsOrigins"`
}

type Database struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxIdle     time.Duration `yaml:"connMaxIdle"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns URL, or a postgres URL assembled from the discrete fields, or "".
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type Cache struct {
	RedisURL string        `yaml:"redisUrl"`
	TTL      time.Duration `yaml:"ttl"`
}

type Auth struct {
	JWTSecret    string        `yaml:"jwtSecret"`
	JWTExpiresIn time.Duration `yaml:"jwtExpiresIn"`
	// LoginPerMinute and LoginBurst bound login/registration attempts per client IP.
	LoginPerMinute float64 `yaml:"loginPerMinute"`
	LoginBurst     int     `yaml:"loginBurst"`
}

type Stripe struct {
	SecretKey                 string        `yaml:"secretKey"`
	WebhookSecret             string        `yaml:"webhookSecret"`
	SubscriptionWebhookSecret string        `yaml:"subscriptionWebhookSecret"`
	BasicPriceID              string        `yaml:"basicPriceId"`
	ProPriceID                string        `yaml:"proPriceId"`
	Timeout                   time.Duration `yaml:"timeout"`
}

type Cloudinary struct {
	CloudName string        `yaml:"cloudName"`
	APIKey    string        `yaml:"apiKey"`
	APISecret string        `yaml:"apiSecret"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Configured reports whether uploads can reach Cloudinary.
func (c Cloudinary) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

type Email struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	FromName    string        `yaml:"fromName"`
	FromAddress string        `yaml:"fromAddress"`
	Timeout     time.Duration `yaml:"timeout"`
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queueSize"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// Configured reports whether an SMTP relay is set.
func (e Email) Configured() bool {
	return e.Host != ""
}

type Telemetry struct {
	ServiceName  string `yaml:"serviceName"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
	Stdout       bool   `yaml:"stdout"`
}

type Config struct {
	Env         string       `yaml:"env"`
	LogLevel    string       `yaml:"logLevel"`
	FrontendURL string       `yaml:"frontendUrl"`
	HTTP        HTTP         `yaml:"http"`
	Database    Database     `yaml:"database"`
	Cache       Cache        `yaml:"cache"`
	Auth        Auth         `yaml:"auth"`
	Stripe      Stripe       `yaml:"stripe"`
	Cloudinary  Cloudinary   `yaml:"cloudinary"`
	Email       Email        `yaml:"email"`
	Telemetry   Telemetry    `yaml:"telemetry"`
	Plans       domain.Plans `yaml:"plans"`
}

// Development reports whether the process runs with APP_ENV=development.
func (c Config) Development() bool {
	return c.Env == "development"
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env:         "development",
		LogLevel:    "info",
		FrontendURL: "http://localhost:5173",
		HTTP: HTTP{
			Port:              "5000",
			ReadHeaderTimeout: 2 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			CORSOrigins:       []string{"http://localhost:5173"},
		},
		Database: Database{
			Port:            "5432",
			User:            "postgres",
			Password:        "postgres",
			Name:            "storepro",
			SSLMode:         "disable",
			MaxOpenConns:    60,
			MaxIdleConns:    20,
			ConnMaxIdle:     5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache: Cache{TTL: 45 * time.Second},
		Auth: Auth{
			JWTExpiresIn:   30 * 24 * time.Hour,
			LoginPerMinute: 10,
			LoginBurst:     5,
		},
		Stripe:     Stripe{Timeout: 20 * time.Second},
		Cloudinary: Cloudinary{Timeout: 60 * time.Second},
		Email: Email{
			Port:        587,
			FromName:    "StorePro",
			Timeout:     15 * time.Second,
			Workers:     2,
			QueueSize:   256,
			MaxAttempts: 3,
		},
		Telemetry: Telemetry{ServiceName: "storepro-api"},
	}
}

// Load builds the configuration from defaults, CONFIG_FILE and the environment.
func Load() (Config, error) {
	return load(os.LookupEnv, os.ReadFile)
}

func load(lookup func(string) (string, bool), readFile func(string) ([]byte, error)) (Config, error) {
	cfg := Default()
	e := envReader{lookup: lookup}

	if path := e.str("CONFIG_FILE", ""); path != "" {
		raw, err := readFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv(e)

	// Plans not listed in the file come from the built-in table; price ids
	// always track the configured Stripe prices.
	builtin := domain.DefaultPlans(cfg.Stripe.BasicPriceID, cfg.Stripe.ProPriceID)
	if cfg.Plans == nil {
		cfg.Plans = domain.Plans{}
	}
	for key, plan := range builtin {
		if existing, ok := cfg.Plans[key]; ok {
			existing.Key = key
			if existing.StripePriceID == "" {
				existing.StripePriceID = plan.StripePriceID
			}
			cfg.Plans[key] = existing
			continue
		}
		cfg.Plans[key] = plan
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(e envReader) {
	c.Env = e.str("APP_ENV", c.Env)
	c.LogLevel = e.str("LOG_LEVEL", c.LogLevel)
	c.FrontendURL = strings.TrimRight(e.str("FRONTEND_URL", c.FrontendURL), "/")

	c.HTTP.Port = e.str("PORT", c.HTTP.Port)
	c.HTTP.ReadHeaderTimeout = e.duration("HTTP_READ_HEADER_TIMEOUT", c.HTTP.ReadHeaderTimeout)
	c.HTTP.ReadTimeout = e.duration("HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = e.duration("HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)
	c.HTTP.IdleTimeout = e.duration("HTTP_IDLE_TIMEOUT", c.HTTP.IdleTimeout)
	c.HTTP.ShutdownTimeout = e.duration("SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)
	c.HTTP.CORSOrigins = e.list("CORS_ORIGINS", c.HTTP.CORSOrigins)

	c.Database.URL = e.str("DATABASE_URL", c.Database.URL)
	c.Database.Host = e.str("DB_HOST", c.Database.Host)
	c.Database.Port = e.str("DB_PORT", c.Database.Port)
	c.Database.User = e.str("DB_USER", c.Database.User)
	c.Database.Password = e.str("DB_PASSWORD", c.Database.Password)
	c.Database.Name = e.str("DB_NAME", c.Database.Name)
	c.Database.SSLMode = e.str("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = e.int("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = e.int("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxIdle = e.duration("DB_CONN_MAX_IDLE", c.Database.ConnMaxIdle)
	c.Database.ConnMaxLifetime = e.duration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.Cache.RedisURL = e.str("REDIS_URL", c.Cache.RedisURL)
	c.Cache.TTL = e.duration("CACHE_TTL", c.Cache.TTL)

	c.Auth.JWTSecret = e.str("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTExpiresIn = e.duration("JWT_EXPIRES_IN", c.Auth.JWTExpiresIn)
	c.Auth.LoginPerMinute = e.float("LOGIN_RATE_PER_MINUTE", c.Auth.LoginPerMinute)
	c.Auth.LoginBurst = e.int("LOGIN_RATE_BURST", c.Auth.LoginBurst)

	c.Stripe.SecretKey = e.str("STRIPE_SECRET_KEY", c.Stripe.SecretKey)
	c.Stripe.WebhookSecret = e.str("STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret)
	c.Stripe.SubscriptionWebhookSecret = e.str("STRIPE_SUBSCRIPTION_WEBHOOK_SECRET", c.Stripe.SubscriptionWebhookSecret)
	if c.Stripe.SubscriptionWebhookSecret == "" {
		c.Stripe.SubscriptionWebhookSecret = c.Stripe.WebhookSecret
	}
	c.Stripe.BasicPriceID = e.str("STRIPE_BASIC_PRICE_ID", c.Stripe.BasicPriceID)
	c.Stripe.ProPriceID = e.str("STRIPE_PRO_PRICE_ID", c.Stripe.ProPriceID)
	c.Stripe.Timeout = e.duration("PAYMENT_TIMEOUT", c.Stripe.Timeout)

	c.Cloudinary.CloudName = e.str("CLOUDINARY_CLOUD_NAME", c.Cloudinary.CloudName)
	c.Cloudinary.APIKey = e.str("CLOUDINARY_API_KEY", c.Cloudinary.APIKey)
	c.Cloudinary.APISecret = e.str("CLOUDINARY_API_SECRET", c.Cloudinary.APISecret)
	c.Cloudinary.Timeout = e.duration("UPLOAD_TIMEOUT", c.Cloudinary.Timeout)

	c.Email.Host = e.str("EMAIL_HOST", c.Email.Host)
	c.Email.Port = e.int("EMAIL_PORT", c.Email.Port)
	c.Email.User = e.str("EMAIL_USER", c.Email.User)
	c.Email.Password = e.str("EMAIL_PASSWORD", c.Email.Password)
	c.Email.FromName = e.str("EMAIL_FROM_NAME", c.Email.FromName)
	c.Email.FromAddress = e.str("EMAIL_FROM", c.Email.FromAddress)
	if c.Email.FromAddress == "" {
		c.Email.FromAddress = c.Email.User
	}
	c.Email.Timeout = e.duration("EMAIL_TIMEOUT", c.Email.Timeout)
	c.Email.Workers = e.int("EMAIL_WORKERS", c.Email.Workers)
	c.Email.QueueSize = e.int("EMAIL_QUEUE_SIZE", c.Email.QueueSize)
	c.Email.MaxAttempts = e.int("EMAIL_MAX_ATTEMPTS", c.Email.MaxAttempts)

	c.Telemetry.OTLPEndpoint = e.str("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.OTLPInsecure = e.bool("OTEL_EXPORTER_OTLP_INSECURE", c.Telemetry.OTLPInsecure)
	c.Telemetry.Stdout = e.bool("TELEMETRY_STDOUT", c.Telemetry.Stdout)
	c.Telemetry.ServiceName = e.str("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
}

// Validate rejects configurations the server cannot run safely with.
func (c Config) Validate() error {
	var errs []error
	switch c.Env {
	case "development", "production", "staging", "test":
	default:
		errs = append(errs, fmt.Errorf("APP_ENV %q is not one of development, staging, production, test", c.Env))
	}
	if c.Auth.JWTSecret == "" && !c.Development() {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	if c.Auth.JWTExpiresIn <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRES_IN must be positive"))
	}
	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.Email.Workers < 1 || c.Email.QueueSize < 1 || c.Email.MaxAttempts < 1 {
		errs = append(errs, errors.New("EMAIL_WORKERS, EMAIL_QUEUE_SIZE and EMAIL_MAX_ATTEMPTS must be at least 1"))
	}
	if _, ok := c.Plans[domain.PlanFree]; !ok {
		errs = append(errs, errors.New("plan table must contain the free plan"))
	}
	return errors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) str(key, def string) string {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def
	}
	return v
}

func (e envReader) int(key string, def int) int {
	n, err := strconv.Atoi(e.str(key, ""))
	if err != nil {
		return def
	}
	return n
}

func (e envReader) float(key string, def float64) float64 {
	f, err := strconv.ParseFloat(e.str(key, ""), 64)
	if err != nil {
		return def
	}
	return f
}

func (e envReader) bool(key string, def bool) bool {
	b, err := strconv.ParseBool(e.str(key, ""))
	if err != nil {
		return def
	}
	return b
}

// duration accepts Go durations ("15s") and the "<n>d" day form ("30d").
func (e envReader) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return def
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func (e envReader) list(key string, def []string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
