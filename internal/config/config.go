package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mail-risk/")
	v.AddConfigPath("$HOME/.mail-risk")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	return load(v, true)
}

// NewFromFile creates a configuration instance from the given file
func NewFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v, false)
}

func load(v *viper.Viper, optional bool) (*Config, error) {
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("MAIL_RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("model.path", "MAIL_RISK_MODEL_PATH", "PERCEPTRON_MODEL_PATH"); err != nil {
		return nil, fmt.Errorf("failed to bind model path: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || !optional {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	// Model
	v.SetDefault("model.path", "model/model.json")

	// HTTP API
	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.owner_header", "X-Owner-ID")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.max_upload_bytes", int64(5*500<<20))

	// SMTP intake
	v.SetDefault("intake.enabled", false)
	v.SetDefault("intake.listen_address", "0.0.0.0:10025")
	v.SetDefault("intake.domain", "localhost")
	v.SetDefault("intake.max_message_bytes", 25<<20)
	v.SetDefault("intake.auto_analyze", true)
	v.SetDefault("intake.trusted_domains", []string{})

	// Narrative
	v.SetDefault("narrative.provider", "template")
	v.SetDefault("narrative.flush_interval", "1s")
	v.SetDefault("narrative.max_body_size", 4096)
	v.SetDefault("narrative.language", "Portuguese")

	// Groq (OpenAI compatible)
	v.SetDefault("groq.api_key", "")
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model_name", "llama-3.1-8b-instant")
	v.SetDefault("groq.max_tokens", 800)
	v.SetDefault("groq.temperature", 0.3)
	v.SetDefault("groq.top_p", 0.9)

	// OpenAI
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 800)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.top_p", 0.9)

	// Gemini
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 800)
	v.SetDefault("gemini.temperature", 0.3)
	v.SetDefault("gemini.top_p", 0.9)

	// Bedrock
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("bedrock.max_tokens", 800)
	v.SetDefault("bedrock.temperature", 0.3)
	v.SetDefault("bedrock.top_p", 0.9)

	// Malware scanning
	v.SetDefault("scanner.provider", "virustotal")
	v.SetDefault("scanner.timeout", "30s")
	v.SetDefault("scanner.poll_interval", "5s")
	v.SetDefault("scanner.max_polls", 12)
	v.SetDefault("virustotal.api_key", "")
	v.SetDefault("virustotal.base_url", "https://www.virustotal.com/api/v3")
	v.SetDefault("metadefender.api_key", "")
	v.SetDefault("metadefender.base_url", "https://api.metadefender.com/v4")

	// Scan result cache
	v.SetDefault("scan_cache.type", "memory")
	v.SetDefault("scan_cache.ttl", "24h")
	v.SetDefault("scan_cache.cleanup_frequency", "1h")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Record store
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.sqlite_path", "/data/mail_risk.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/mail_risk")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.retention", "0s")
	v.SetDefault("store.cleanup_frequency", "1h")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetInt64 gets an int64 value from the configuration
func (c *Config) GetInt64(key string) int64 {
	return c.v.GetInt64(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration parses a duration string from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// Set overrides a value; CLIs use it to apply flags
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
