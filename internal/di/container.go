package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/factory"
	"github.com/mikey/mail-risk/internal/logging"
	"github.com/mikey/mail-risk/internal/ml"
	"github.com/mikey/mail-risk/internal/ports"
	"github.com/mikey/mail-risk/internal/verdict"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideFactories(container); err != nil {
		return nil, err
	}

	// Register record store
	if err := container.Provide(func(f *factory.StoreFactory) (factory.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register scan cache; nil when scan_cache.type is none
	if err := container.Provide(func(f *factory.ScannerFactory) (ports.ScanCache, error) {
		return f.CreateScanCache()
	}); err != nil {
		return nil, err
	}

	// Register malware scanner
	if err := container.Provide(func(f *factory.ScannerFactory, scanCache ports.ScanCache) (core.MalwareScanner, error) {
		return f.CreateScanner(scanCache)
	}); err != nil {
		return nil, err
	}

	if err := provideAnalysis(container); err != nil {
		return nil, err
	}

	// Register listeners
	if err := container.Provide(func(f *factory.ServerFactory, service *core.AnalysisService) []ports.Server {
		return f.CreateServers(service)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

func provideFactories(container *dig.Container) error {
	constructors := []interface{}{
		factory.NewNarrativeFactory,
		factory.NewStoreFactory,
		factory.NewScannerFactory,
		factory.NewServerFactory,
		factory.NewClassifierFactory,
	}
	for _, c := range constructors {
		if err := container.Provide(c); err != nil {
			return err
		}
	}
	return nil
}

// provideAnalysis registers the pipeline shared by the server and the CLI
func provideAnalysis(container *dig.Container) error {
	// Register prompt builder
	if err := container.Provide(func(f *factory.NarrativeFactory) (*core.PromptBuilder, error) {
		return f.CreatePromptBuilder()
	}); err != nil {
		return err
	}

	// Register narrative generator
	if err := container.Provide(func(f *factory.NarrativeFactory) (core.NarrativeGenerator, error) {
		return f.CreateNarrativeGenerator()
	}); err != nil {
		return err
	}

	// Register classifier
	if err := container.Provide(func(f *factory.ClassifierFactory) (*ml.ModelLoader, error) {
		return f.CreateModelLoader()
	}); err != nil {
		return err
	}

	// Register analysis service
	return container.Provide(func(
		cfg *config.Config,
		logger *zap.Logger,
		repo factory.Store,
		classifier *ml.ModelLoader,
		scanner core.MalwareScanner,
		narrator core.NarrativeGenerator,
		prompts *core.PromptBuilder,
	) (*core.AnalysisService, error) {
		narrativeCfg, err := cfg.GetNarrative()
		if err != nil {
			return nil, err
		}
		logger.Info("Configured analysis pipeline",
			zap.String("narrative_provider", narrativeCfg.Provider),
			zap.String("scanner", scanner.Name()),
			zap.String("model", classifier.Path()))
		return core.NewAnalysisService(
			repo,
			classifier,
			scanner,
			narrator,
			verdict.Policy{},
			prompts,
			logger,
			core.ServiceConfig{FlushInterval: narrativeCfg.FlushInterval},
		), nil
	})
}
