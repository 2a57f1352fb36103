package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the twimagine server, worker and CLI.
// Field values come from environment variables named in the envconfig tags.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Queue       QueueConfig
	Worker      WorkerConfig
	Stripe      StripeConfig
	Pricing     PricingConfig
	Twitter     TwitterConfig
	ObjectStore ObjectStoreConfig
	Synthesis   SynthesisConfig
	Admin       AdminConfig
}

type ServerConfig struct {
	Port int    `envconfig:"TWIMAGINE_PORT" default:"8080"`
	Env  string `envconfig:"TWIMAGINE_ENV" default:"development"`
}

// IsDevelopment reports whether the process runs in the development environment.
func (s ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

type DatabaseConfig struct {
	URL             string        `envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"5m"`
	MigrationsDir   string        `envconfig:"DATABASE_MIGRATIONS_DIR" default:"migrations"`
}

type RedisConfig struct {
	URL         string        `envconfig:"REDIS_URL"`
	PoolSize    int           `envconfig:"REDIS_POOL_SIZE" default:"20"`
	DialTimeout time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
}

// QueueConfig configures the Redis Streams work queue.
type QueueConfig struct {
	StreamPrefix      string        `envconfig:"QUEUE_STREAM_PREFIX" default:"twimagine"`
	Group             string        `envconfig:"QUEUE_CONSUMER_GROUP" default:"workers"`
	Consumer          string        `envconfig:"QUEUE_CONSUMER_NAME"`
	VisibilityTimeout time.Duration `envconfig:"QUEUE_VISIBILITY_TIMEOUT" default:"20m"`
	BlockTimeout      time.Duration `envconfig:"QUEUE_BLOCK_TIMEOUT" default:"5s"`
	MaxDeliveries     int           `envconfig:"QUEUE_MAX_DELIVERIES" default:"5"`
}

// WorkerConfig bounds how long each work item kind may run and how often a
// transient failure is retried before the request is failed.
type WorkerConfig struct {
	PaymentTimeout     time.Duration `envconfig:"WORKER_PAYMENT_TIMEOUT" default:"2m"`
	FulfillmentTimeout time.Duration `envconfig:"WORKER_FULFILLMENT_TIMEOUT" default:"15m"`
	MaxAttempts        int           `envconfig:"WORKER_MAX_ATTEMPTS" default:"3"`
	Concurrency        int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
}

type StripeConfig struct {
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	PayURLBase    string `envconfig:"STRIPE_PAY_URL_BASE" default:"https://checkout.stripe.com/pay/"`
	APIBaseURL    string `envconfig:"STRIPE_API_BASE_URL"`
}

type PricingConfig struct {
	AmountCents int64  `envconfig:"PRICE_AMOUNT_CENTS" default:"500"`
	Currency    string `envconfig:"PRICE_CURRENCY" default:"usd"`
}

type TwitterConfig struct {
	APIKey            string        `envconfig:"TWITTER_API_KEY"`
	APISecret         string        `envconfig:"TWITTER_API_SECRET"`
	AccessToken       string        `envconfig:"TWITTER_ACCESS_TOKEN"`
	AccessTokenSecret string        `envconfig:"TWITTER_ACCESS_TOKEN_SECRET"`
	WebhookSecret     string        `envconfig:"TWITTER_WEBHOOK_SECRET"`
	BotUsername       string        `envconfig:"TWITTER_BOT_USERNAME"`
	APIBaseURL        string        `envconfig:"TWITTER_API_BASE_URL" default:"https://api.twitter.com"`
	UploadBaseURL     string        `envconfig:"TWITTER_UPLOAD_BASE_URL" default:"https://upload.twitter.com"`
	Timeout           time.Duration `envconfig:"TWITTER_TIMEOUT" default:"30s"`
	PromptMinLength   int           `envconfig:"PROMPT_MIN_LENGTH" default:"10"`
}

type ObjectStoreConfig struct {
	Driver        string `envconfig:"OBJECT_STORE_DRIVER" default:"s3"`
	Bucket        string `envconfig:"BUCKET_NAME"`
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	Endpoint      string `envconfig:"S3_ENDPOINT"`
	PublicBaseURL string `envconfig:"OBJECT_STORE_PUBLIC_URL"`
	FSRoot        string `envconfig:"OBJECT_STORE_FS_ROOT" default:"./data/objects"`
}

type SynthesisConfig struct {
	Provider string `envconfig:"SYNTHESIS_PROVIDER" default:"unimplemented"`
}

type AdminConfig struct {
	RequestsPerMinute int `envconfig:"ADMIN_RATE_LIMIT_RPM" default:"60"`
}

var validObjectStoreDrivers = map[string]bool{
	"s3":         true,
	"filesystem": true,
}

var validSynthesisProviders = map[string]bool{
	"unimplemented": true,
	"placeholder":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDatabase reads only the database settings. The operator CLI uses it so
// that it runs without webhook and provider credentials.
func LoadDatabase() (*DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if !strings.HasPrefix(c.Stripe.PayURLBase, "https://") && !strings.HasPrefix(c.Stripe.PayURLBase, "http://") {
		return fmt.Errorf("STRIPE_PAY_URL_BASE must start with http:// or https://, got %q", c.Stripe.PayURLBase)
	}

	if c.Pricing.AmountCents <= 0 {
		return fmt.Errorf("PRICE_AMOUNT_CENTS must be positive, got %d", c.Pricing.AmountCents)
	}
	if len(c.Pricing.Currency) != 3 {
		return fmt.Errorf("PRICE_CURRENCY must be a three-letter ISO code, got %q", c.Pricing.Currency)
	}

	if err := c.Twitter.validate(); err != nil {
		return err
	}

	if !validObjectStoreDrivers[c.ObjectStore.Driver] {
		return fmt.Errorf("OBJECT_STORE_DRIVER must be one of s3, filesystem; got %q", c.ObjectStore.Driver)
	}
	if c.ObjectStore.Driver == "s3" && c.ObjectStore.Bucket == "" {
		return fmt.Errorf("BUCKET_NAME is required when OBJECT_STORE_DRIVER is s3")
	}

	if !validSynthesisProviders[c.Synthesis.Provider] {
		return fmt.Errorf("SYNTHESIS_PROVIDER must be one of unimplemented, placeholder; got %q", c.Synthesis.Provider)
	}
	if c.Synthesis.Provider == "placeholder" && !c.Server.IsDevelopment() {
		return fmt.Errorf("SYNTHESIS_PROVIDER placeholder is only allowed when TWIMAGINE_ENV is development")
	}

	return c.validateTimeouts()
}

func (t TwitterConfig) validate() error {
	required := []struct {
		name, value string
	}{
		{"TWITTER_API_KEY", t.APIKey},
		{"TWITTER_API_SECRET", t.APISecret},
		{"TWITTER_ACCESS_TOKEN", t.AccessToken},
		{"TWITTER_ACCESS_TOKEN_SECRET", t.AccessTokenSecret},
		{"TWITTER_WEBHOOK_SECRET", t.WebhookSecret},
		{"TWITTER_BOT_USERNAME", t.BotUsername},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	if strings.HasPrefix(t.BotUsername, "@") {
		return fmt.Errorf("TWITTER_BOT_USERNAME must not include the leading @, got %q", t.BotUsername)
	}
	if t.PromptMinLength < 1 {
		return fmt.Errorf("PROMPT_MIN_LENGTH must be at least 1, got %d", t.PromptMinLength)
	}
	return nil
}

// validateTimeouts enforces that fulfillment may run longer than payment, and
// that the queue never redelivers an item whose handler may still be running.
func (c *Config) validateTimeouts() error {
	if c.Worker.PaymentTimeout <= 0 {
		return fmt.Errorf("WORKER_PAYMENT_TIMEOUT must be positive")
	}
	if c.Worker.FulfillmentTimeout <= c.Worker.PaymentTimeout {
		return fmt.Errorf("WORKER_FULFILLMENT_TIMEOUT (%s) must be greater than WORKER_PAYMENT_TIMEOUT (%s)",
			c.Worker.FulfillmentTimeout, c.Worker.PaymentTimeout)
	}
	if c.Queue.VisibilityTimeout <= c.Worker.FulfillmentTimeout {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must be greater than WORKER_FULFILLMENT_TIMEOUT (%s)",
			c.Queue.VisibilityTimeout, c.Worker.FulfillmentTimeout)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Queue.MaxDeliveries < c.Worker.MaxAttempts {
		return fmt.Errorf("QUEUE_MAX_DELIVERIES (%d) must be at least WORKER_MAX_ATTEMPTS (%d)",
			c.Queue.MaxDeliveries, c.Worker.MaxAttempts)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	return nil
}
