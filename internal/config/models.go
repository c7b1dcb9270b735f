package config

import "time"

// ModelConfig locates the classification artifact
type ModelConfig struct {
	Path string
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	ListenAddress  string
	Mode           string
	OwnerHeader    string
	MaxUploadBytes int64
	JWTSecret      string
}

// IntakeConfig configures the SMTP intake
type IntakeConfig struct {
	Enabled         bool
	ListenAddress   string
	Domain          string
	MaxMessageBytes int64
	AutoAnalyze     bool
	TrustedDomains  []string
}

// NarrativeConfig selects and tunes narrative generation
type NarrativeConfig struct {
	Provider      string
	FlushInterval time.Duration
	MaxBodySize   int
	Language      string
}

// LLMConfig is shared by the chat-completion style providers
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// ScannerConfig selects the malware scanning provider
type ScannerConfig struct {
	Provider     string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
}

// ScanServiceConfig holds the credentials of one scanning service
type ScanServiceConfig struct {
	APIKey  string
	BaseURL string
}

// ScanCacheConfig selects the scan result cache
type ScanCacheConfig struct {
	Type             string
	TTL              time.Duration
	CleanupFrequency time.Duration
}

// RedisConfig locates the Redis server
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig selects the analysis record store
type StoreConfig struct {
	Type             string
	SQLitePath       string
	MySQLDSN         string
	PostgresDSN      string
	Retention        time.Duration
	CleanupFrequency time.Duration
}

// GetModel returns the model configuration
func (c *Config) GetModel() ModelConfig {
	return ModelConfig{Path: c.GetString("model.path")}
}

// GetServer returns the HTTP API configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		ListenAddress:  c.GetString("server.listen_address"),
		Mode:           c.GetString("server.mode"),
		OwnerHeader:    c.GetString("server.owner_header"),
		MaxUploadBytes: c.GetInt64("server.max_upload_bytes"),
		JWTSecret:      c.GetString("server.jwt_secret"),
	}
}

// GetIntake returns the SMTP intake configuration
func (c *Config) GetIntake() IntakeConfig {
	return IntakeConfig{
		Enabled:         c.GetBool("intake.enabled"),
		ListenAddress:   c.GetString("intake.listen_address"),
		Domain:          c.GetString("intake.domain"),
		MaxMessageBytes: c.GetInt64("intake.max_message_bytes"),
		AutoAnalyze:     c.GetBool("intake.auto_analyze"),
		TrustedDomains:  c.GetStringSlice("intake.trusted_domains"),
	}
}

// GetNarrative returns the narrative configuration
func (c *Config) GetNarrative() (NarrativeConfig, error) {
	flush, err := c.GetDuration("narrative.flush_interval")
	if err != nil {
		return NarrativeConfig{}, err
	}
	return NarrativeConfig{
		Provider:      c.GetString("narrative.provider"),
		FlushInterval: flush,
		MaxBodySize:   c.GetInt("narrative.max_body_size"),
		Language:      c.GetString("narrative.language"),
	}, nil
}

func (c *Config) llm(prefix string) LLMConfig {
	return LLMConfig{
		APIKey:      c.GetString(prefix + ".api_key"),
		BaseURL:     c.GetString(prefix + ".base_url"),
		ModelName:   c.GetString(prefix + ".model_name"),
		MaxTokens:   c.GetInt(prefix + ".max_tokens"),
		Temperature: float32(c.GetFloat64(prefix + ".temperature")),
		TopP:        float32(c.GetFloat64(prefix + ".top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() LLMConfig {
	return c.llm("openai")
}

// GetGroq returns the Groq configuration
func (c *Config) GetGroq() LLMConfig {
	return c.llm("groq")
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() LLMConfig {
	return c.llm("gemini")
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetScanner returns the scanner selection
func (c *Config) GetScanner() (ScannerConfig, error) {
	timeout, err := c.GetDuration("scanner.timeout")
	if err != nil {
		return ScannerConfig{}, err
	}
	poll, err := c.GetDuration("scanner.poll_interval")
	if err != nil {
		return ScannerConfig{}, err
	}
	return ScannerConfig{
		Provider:     c.GetString("scanner.provider"),
		Timeout:      timeout,
		PollInterval: poll,
		MaxPolls:     c.GetInt("scanner.max_polls"),
	}, nil
}

// GetVirusTotal returns the VirusTotal credentials
func (c *Config) GetVirusTotal() ScanServiceConfig {
	return ScanServiceConfig{
		APIKey:  c.GetString("virustotal.api_key"),
		BaseURL: c.GetString("virustotal.base_url"),
	}
}

// GetMetaDefender returns the MetaDefender credentials
func (c *Config) GetMetaDefender() ScanServiceConfig {
	return ScanServiceConfig{
		APIKey:  c.GetString("metadefender.api_key"),
		BaseURL: c.GetString("metadefender.base_url"),
	}
}

// GetStore returns the record store configuration
func (c *Config) GetStore() (StoreConfig, error) {
	retention, err := c.GetDuration("store.retention")
	if err != nil {
		return StoreConfig{}, err
	}
	freq, err := c.GetDuration("store.cleanup_frequency")
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		Type:             c.GetString("store.type"),
		SQLitePath:       c.GetString("store.sqlite_path"),
		MySQLDSN:         c.GetString("store.mysql_dsn"),
		PostgresDSN:      c.GetString("store.postgres_dsn"),
		Retention:        retention,
		CleanupFrequency: freq,
	}, nil
}

// GetScanCache returns the scan cache configuration
func (c *Config) GetScanCache() (ScanCacheConfig, error) {
	ttl, err := c.GetDuration("scan_cache.ttl")
	if err != nil {
		return ScanCacheConfig{}, err
	}
	freq, err := c.GetDuration("scan_cache.cleanup_frequency")
	if err != nil {
		return ScanCacheConfig{}, err
	}
	return ScanCacheConfig{
		Type:             c.GetString("scan_cache.type"),
		TTL:              ttl,
		CleanupFrequency: freq,
	}, nil
}

// GetRedis returns the Redis connection settings
func (c *Config) GetRedis() RedisConfig {
	return RedisConfig{
		Addr:     c.GetString("redis.addr"),
		Password: c.GetString("redis.password"),
		DB:       c.GetInt("redis.db"),
	}
}
