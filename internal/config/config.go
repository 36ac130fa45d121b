package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Currency  CurrencyConfig  `yaml:"currency"`
	Stripe    StripeConfig    `yaml:"stripe"`
	PayPal    PayPalConfig    `yaml:"paypal"`
	Paystack  PaystackConfig  `yaml:"paystack"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type CurrencyConfig struct {
	Default string `yaml:"default"`
}

type StripeConfig struct {
	BaseURL       string `yaml:"base_url"`
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type PayPalConfig struct {
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	WebhookID    string `yaml:"webhook_id"`
}

type PaystackConfig struct {
	BaseURL   string `yaml:"base_url"`
	SecretKey string `yaml:"secret_key"`
}

// Load reads the yaml file. Secrets can be injected via environment so the
// file itself stays free of credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	overrideEnv(&cfg.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	overrideEnv(&cfg.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	overrideEnv(&cfg.PayPal.ClientID, "PAYPAL_CLIENT_ID")
	overrideEnv(&cfg.PayPal.ClientSecret, "PAYPAL_CLIENT_SECRET")
	overrideEnv(&cfg.PayPal.WebhookID, "PAYPAL_WEBHOOK_ID")
	overrideEnv(&cfg.Paystack.SecretKey, "PAYSTACK_SECRET_KEY")
	if cfg.Currency.Default == "" {
		cfg.Currency.Default = "USD"
	}
	return &cfg, nil
}

func overrideEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
