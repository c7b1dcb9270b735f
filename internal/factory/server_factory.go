package factory

import (
	"github.com/mikey/mail-risk/internal/adapters/httpapi"
	"github.com/mikey/mail-risk/internal/adapters/intake"
	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/ports"
	"github.com/mikey/mail-risk/internal/whitelist"
	"go.uber.org/zap"
)

// ServerFactory creates the listeners that front the analysis service
type ServerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewServerFactory creates a new server factory
func NewServerFactory(cfg *config.Config, logger *zap.Logger) *ServerFactory {
	return &ServerFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateServers creates the HTTP API and, when enabled, the SMTP intake
func (f *ServerFactory) CreateServers(service *core.AnalysisService) []ports.Server {
	serverCfg := f.cfg.GetServer()
	api := httpapi.NewServer(httpapi.Config{
		ListenAddress:  serverCfg.ListenAddress,
		Mode:           serverCfg.Mode,
		OwnerHeader:    serverCfg.OwnerHeader,
		MaxUploadBytes: serverCfg.MaxUploadBytes,
		JWTSecret:      serverCfg.JWTSecret,
	}, httpapi.NewAnalysisHandler(service, f.logger), f.logger)

	servers := []ports.Server{api}

	intakeCfg := f.cfg.GetIntake()
	if intakeCfg.Enabled {
		trusted := whitelist.NewChecker(intakeCfg.TrustedDomains, f.logger)
		servers = append(servers, intake.NewSMTPIntake(intake.Config{
			ListenAddress:   intakeCfg.ListenAddress,
			Domain:          intakeCfg.Domain,
			MaxMessageBytes: intakeCfg.MaxMessageBytes,
			AutoAnalyze:     intakeCfg.AutoAnalyze,
		}, service, trusted, f.logger))
	}

	return servers
}
