package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Stripe  StripeConfig  `mapstructure:"stripe"`
	Email   EmailConfig   `mapstructure:"email"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StoreConfig holds the storefront business parameters. Shipping is a flat
// fee and tax is a flat percentage of the subtotal.
type StoreConfig struct {
	PublicBaseURL string  `mapstructure:"public_base_url"`
	Currency      string  `mapstructure:"currency"`
	ShippingFee   float64 `mapstructure:"shipping_fee"`
	TaxRate       float64 `mapstructure:"tax_rate"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type EmailConfig struct {
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	ReplyTo     string `mapstructure:"reply_to"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("store.currency", "usd")
	v.SetDefault("store.shipping_fee", 10.0)
	v.SetDefault("store.tax_rate", 0.08)
	v.SetDefault("email.from_address", "orders@example.com")
	v.SetDefault("email.from_name", "Storefront")

	// Secrets come from the environment, never from the config file.
	v.AutomaticEnv()
	v.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	v.BindEnv("stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET")
	v.BindEnv("email.api_key", "RESEND_API_KEY")
	v.BindEnv("mysql.password", "MYSQL_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects a configuration with missing required secrets so the
// process fails at startup rather than on the first checkout or webhook.
func (c *Config) Validate() error {
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("config: STRIPE_SECRET_KEY is not set")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("config: STRIPE_WEBHOOK_SECRET is not set")
	}
	if c.Email.APIKey == "" {
		return fmt.Errorf("config: RESEND_API_KEY is not set")
	}
	if c.Store.PublicBaseURL == "" {
		return fmt.Errorf("config: store.public_base_url is not set")
	}
	if c.Store.TaxRate < 0 || c.Store.TaxRate >= 1 {
		return fmt.Errorf("config: store.tax_rate %v is out of range", c.Store.TaxRate)
	}
	return nil
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
