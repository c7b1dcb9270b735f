package scanner

import (
	"context"
	"time"

	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/ports"
	"go.uber.org/zap"
)

// Cached serves completed results from a scan cache before asking the provider
type Cached struct {
	inner  core.MalwareScanner
	cache  ports.ScanCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps a scanner with a cache
func NewCached(inner core.MalwareScanner, cache ports.ScanCache, ttl time.Duration, logger *zap.Logger) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

// Name reports the wrapped provider so stored results stay reusable
func (c *Cached) Name() string {
	return c.inner.Name()
}

// Scan implements core.MalwareScanner
func (c *Cached) Scan(ctx context.Context, file *core.Attachment) (*core.ScanResult, error) {
	provider := c.inner.Name()

	res, ok, err := c.cache.Get(ctx, provider, file.SHA256)
	if err != nil {
		c.logger.Warn("Scan cache lookup failed", zap.String("sha256", file.SHA256), zap.Error(err))
	}
	if ok {
		c.logger.Debug("Scan cache hit", zap.String("provider", provider), zap.String("sha256", file.SHA256))
		return res, nil
	}

	res, err = c.inner.Scan(ctx, file)
	if err != nil {
		return nil, err
	}

	// Only final answers are cached; a FAILED scan is retried next time.
	if res.Status == core.ScanCompleted {
		if err := c.cache.Set(ctx, provider, file.SHA256, res, c.ttl); err != nil {
			c.logger.Warn("Failed to cache scan result", zap.String("sha256", file.SHA256), zap.Error(err))
		}
	}
	return res, nil
}
