// Package config loads settings from .env, the environment (EMP_ prefix) and
// an optional YAML file named by EMP_CONFIG_FILE.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix         = "EMP"
	configFileEnv     = "EMP_CONFIG_FILE"
	defaultHTTPAddr   = ":8080"
	defaultCORSOrigin = "http://localhost:3000"
	defaultGatewayURL = "https://staging.gate.emerchantpay.net"
	defaultTimeout    = 30 * time.Second
	defaultCron       = "0 * * * *"
	defaultTimezone   = "UTC"
	defaultCooldown   = 30
	defaultWindowDays = 14
	defaultBatchSize  = 20
)

type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	CORSOrigins string `mapstructure:"cors_origins"`

	DBHost     string `mapstructure:"db_host"`
	DBPort     string `mapstructure:"db_port"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`
	DBName     string `mapstructure:"db_name"`
	DBSSLMode  string `mapstructure:"db_sslmode"`

	GatewayURL      string        `mapstructure:"gateway_url"`
	GatewayUsername string        `mapstructure:"gateway_username"`
	GatewayPassword string        `mapstructure:"gateway_password"`
	GatewayTerminal string        `mapstructure:"gateway_terminal_token"`
	GatewayTimeout  time.Duration `mapstructure:"gateway_timeout"`

	ReadToken  string `mapstructure:"read_token"`
	WriteToken string `mapstructure:"write_token"`
	JWTSecret  string `mapstructure:"jwt_secret"`

	SubmitConcurrency   int    `mapstructure:"submit_concurrency"`
	SubmitChunkSize     int    `mapstructure:"submit_chunk_size"`
	CooldownWindowDays  int    `mapstructure:"cooldown_window_days"`
	ReconcileWindowDays int    `mapstructure:"reconcile_window_days"`
	ReconcileCron       string `mapstructure:"reconcile_cron"`
	CronTimezone        string `mapstructure:"cron_timezone"`

	// Company defaults, overridden per account.
	TransactionPrefix string `mapstructure:"transaction_prefix"`
	Usage             string `mapstructure:"usage"`
	Currency          string `mapstructure:"currency"`
	RemoteIP          string `mapstructure:"remote_ip"`
	DynamicDescriptor string `mapstructure:"dynamic_descriptor"`
	NotificationURL   string `mapstructure:"notification_url"`
	ReturnSuccessURL  string `mapstructure:"return_success_url"`
	ReturnFailureURL  string `mapstructure:"return_failure_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", defaultHTTPAddr)
	v.SetDefault("cors_origins", defaultCORSOrigin)

	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "emp")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("gateway_url", defaultGatewayURL)
	v.SetDefault("gateway_username", "")
	v.SetDefault("gateway_password", "")
	v.SetDefault("gateway_terminal_token", "")
	v.SetDefault("gateway_timeout", defaultTimeout)

	v.SetDefault("read_token", "")
	v.SetDefault("write_token", "")
	v.SetDefault("jwt_secret", "")

	v.SetDefault("submit_concurrency", defaultBatchSize)
	v.SetDefault("submit_chunk_size", defaultBatchSize)
	v.SetDefault("cooldown_window_days", defaultCooldown)
	v.SetDefault("reconcile_window_days", defaultWindowDays)
	v.SetDefault("reconcile_cron", defaultCron)
	v.SetDefault("cron_timezone", defaultTimezone)

	v.SetDefault("transaction_prefix", "sdd")
	v.SetDefault("usage", "")
	v.SetDefault("currency", "EUR")
	v.SetDefault("remote_ip", "127.0.0.1")
	v.SetDefault("dynamic_descriptor", "")
	v.SetDefault("notification_url", "")
	v.SetDefault("return_success_url", "")
	v.SetDefault("return_failure_url", "")
}

// Load reads .env if present, then the YAML file, then the environment.
// Environment variables win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}
	return load(viper.New(), os.Getenv(configFileEnv))
}

func load(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

// AllowedOrigins splits the comma separated CORS origins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
