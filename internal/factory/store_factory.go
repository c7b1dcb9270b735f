package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/mail-risk/internal/adapters/store"
	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// Store is an analysis repository with background tasks to stop
type Store interface {
	core.AnalysisRepository
	Stop()
}

// StoreFactory creates analysis record stores
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore creates the store selected by store.type
func (f *StoreFactory) CreateStore() (Store, error) {
	storeCfg, err := f.cfg.GetStore()
	if err != nil {
		return nil, err
	}

	switch storeCfg.Type {
	case "memory":
		return store.NewMemoryStore(f.logger, storeCfg.Retention, storeCfg.CleanupFrequency), nil
	case "sqlite":
		if dir := filepath.Dir(storeCfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory for SQLite database: %w", err)
			}
		}
		return store.NewSQLiteStore(storeCfg.SQLitePath, f.logger, storeCfg.Retention, storeCfg.CleanupFrequency)
	case "mysql":
		if storeCfg.MySQLDSN == "" {
			return nil, fmt.Errorf("store.mysql_dsn is required for the mysql store")
		}
		return store.NewMySQLStore(storeCfg.MySQLDSN, f.logger, storeCfg.Retention, storeCfg.CleanupFrequency)
	case "postgres":
		if storeCfg.PostgresDSN == "" {
			return nil, fmt.Errorf("store.postgres_dsn is required for the postgres store")
		}
		return store.NewPostgresStore(storeCfg.PostgresDSN, f.logger, storeCfg.Retention, storeCfg.CleanupFrequency)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
