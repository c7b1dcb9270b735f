package ports

import (
	"context"
	"time"

	"github.com/mikey/mail-risk/internal/core"
)

// ScanCache keeps provider scan results keyed by file hash
type ScanCache interface {
	// Get returns the cached result, or false when absent or expired
	Get(ctx context.Context, provider, sha256 string) (*core.ScanResult, bool, error)

	// Set stores a result for ttl
	Set(ctx context.Context, provider, sha256 string, result *core.ScanResult, ttl time.Duration) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error

	// Stop releases background tasks and connections
	Stop()
}
