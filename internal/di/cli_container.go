package di

import (
	"flag"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/factory"
	"github.com/mikey/mail-risk/internal/logging"
	"github.com/mikey/mail-risk/internal/ports"
)

// CLIFlags contains all command line flags for the classify tool
type CLIFlags struct {
	// Model flags
	ModelPath string

	// Narrative flags
	Provider    string
	MaxTokens   int
	Temperature float64
	TopP        float64
	MaxBodySize int
	Language    string

	// Provider credentials
	OpenAIAPIKey    string
	OpenAIModelName string
	GroqAPIKey      string
	GeminiAPIKey    string
	GeminiModelName string
	BedrockRegion   string
	BedrockModelID  string

	// Scanner flags
	Scanner            string
	VirusTotalAPIKey   string
	MetaDefenderAPIKey string

	// Input flags
	InputFile  string
	Owner      string
	NoNarrate  bool
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	flag.StringVar(&flags.ModelPath, "model", "model/model.json", "Path to the classification model artifact")

	// Narrative flags
	flag.StringVar(&flags.Provider, "provider", "template", "Narrative provider (template, openai, groq, gemini, bedrock)")
	flag.IntVar(&flags.MaxTokens, "max-tokens", 600, "Maximum tokens for the narrative")
	flag.Float64Var(&flags.Temperature, "temperature", 0.2, "Temperature for narrative generation")
	flag.Float64Var(&flags.TopP, "top-p", 0.9, "Top-p for narrative generation")
	flag.IntVar(&flags.MaxBodySize, "max-body-size", 4096, "Maximum email body size sent to the narrator")
	flag.StringVar(&flags.Language, "language", "Portuguese", "Narrative language")

	flag.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	flag.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")
	flag.StringVar(&flags.GroqAPIKey, "groq-api-key", "", "API key for Groq")
	flag.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	flag.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-1.5-flash", "Gemini model name")
	flag.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	flag.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-3-haiku-20240307-v1:0", "Bedrock model ID")

	// Scanner flags
	flag.StringVar(&flags.Scanner, "scanner", "disabled", "Attachment scanner (disabled, virustotal, metadefender)")
	flag.StringVar(&flags.VirusTotalAPIKey, "virustotal-api-key", "", "API key for VirusTotal")
	flag.StringVar(&flags.MetaDefenderAPIKey, "metadefender-api-key", "", "API key for MetaDefender")

	// Input flags
	flag.StringVar(&flags.InputFile, "file", "", "Input email file (use stdin if not specified)")
	flag.StringVar(&flags.Owner, "owner", "cli", "Owner recorded on the analysis")
	flag.BoolVar(&flags.NoNarrate, "no-narrative", false, "Print only the verdict")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	flag.StringVar(&flags.ConfigFile, "config", "", "Load settings from the config file instead of flags")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container for the classify tool
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.NewFromFile(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			// Records live only as long as the command
			cfg.Set("store.type", "memory")
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}

		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	if err := provideFactories(container); err != nil {
		return nil, err
	}

	// Register in-memory store
	if err := container.Provide(func(f *factory.StoreFactory) (factory.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register scanner without a result cache
	if err := container.Provide(func(f *factory.ScannerFactory) (core.MalwareScanner, error) {
		return f.CreateScanner(nil)
	}); err != nil {
		return nil, err
	}

	if err := provideAnalysis(container); err != nil {
		return nil, err
	}

	// The CLI has no listeners
	if err := container.Provide(func() []ports.Server { return nil }); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	v.Set("model.path", flags.ModelPath)
	v.Set("store.type", "memory")
	v.Set("scan_cache.type", "none")

	// Narrative
	v.Set("narrative.provider", flags.Provider)
	v.Set("narrative.max_body_size", flags.MaxBodySize)
	v.Set("narrative.language", flags.Language)

	// Set provider-specific configuration
	switch flags.Provider {
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
	case "groq":
		v.Set("groq.api_key", flags.GroqAPIKey)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
	}
	for _, p := range []string{"openai", "groq", "gemini", "bedrock"} {
		v.Set(p+".max_tokens", flags.MaxTokens)
		v.Set(p+".temperature", flags.Temperature)
		v.Set(p+".top_p", flags.TopP)
	}

	// Scanner
	v.Set("scanner.provider", flags.Scanner)
	v.Set("virustotal.api_key", flags.VirusTotalAPIKey)
	v.Set("metadefender.api_key", flags.MetaDefenderAPIKey)

	return config.NewFromViper(v)
}
