package factory

import (
	"fmt"

	"github.com/mikey/mail-risk/internal/adapters/cache"
	"github.com/mikey/mail-risk/internal/adapters/scanner"
	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/ports"
	"go.uber.org/zap"
)

// ScannerFactory creates malware scanners and their result caches
type ScannerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewScannerFactory creates a new scanner factory
func NewScannerFactory(cfg *config.Config, logger *zap.Logger) *ScannerFactory {
	return &ScannerFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateScanner creates the scanner selected by scanner.provider, wrapped by the cache when one is given
func (f *ScannerFactory) CreateScanner(scanCache ports.ScanCache) (core.MalwareScanner, error) {
	scannerCfg, err := f.cfg.GetScanner()
	if err != nil {
		return nil, err
	}
	poll := scanner.PollConfig{
		Interval: scannerCfg.PollInterval,
		MaxPolls: scannerCfg.MaxPolls,
	}

	var inner core.MalwareScanner
	switch scannerCfg.Provider {
	case "virustotal":
		vt := f.cfg.GetVirusTotal()
		if vt.APIKey == "" {
			return nil, fmt.Errorf("virustotal.api_key is required for the virustotal scanner")
		}
		inner = scanner.NewVirusTotal(vt.APIKey, vt.BaseURL, scannerCfg.Timeout, poll, f.logger)
	case "metadefender":
		md := f.cfg.GetMetaDefender()
		if md.APIKey == "" {
			return nil, fmt.Errorf("metadefender.api_key is required for the metadefender scanner")
		}
		inner = scanner.NewMetaDefender(md.APIKey, md.BaseURL, scannerCfg.Timeout, poll, f.logger)
	case "disabled", "none":
		return scanner.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported scanner provider: %s", scannerCfg.Provider)
	}

	if scanCache == nil {
		return inner, nil
	}
	cacheCfg, err := f.cfg.GetScanCache()
	if err != nil {
		return nil, err
	}
	return scanner.NewCached(inner, scanCache, cacheCfg.TTL, f.logger), nil
}

// CreateScanCache creates the cache selected by scan_cache.type; it returns nil when caching is off
func (f *ScannerFactory) CreateScanCache() (ports.ScanCache, error) {
	cacheCfg, err := f.cfg.GetScanCache()
	if err != nil {
		return nil, err
	}

	switch cacheCfg.Type {
	case "memory":
		return cache.NewMemoryCache(f.logger, cacheCfg.CleanupFrequency), nil
	case "redis":
		redisCfg := f.cfg.GetRedis()
		return cache.NewRedisCache(redisCfg.Addr, redisCfg.Password, redisCfg.DB, f.logger)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported scan cache type: %s", cacheCfg.Type)
	}
}
