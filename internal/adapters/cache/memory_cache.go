// Package cache keeps malware scan results keyed by provider and file hash
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

type memoryEntry struct {
	result    core.ScanResult
	expiresAt time.Time
}

// MemoryCache is an in-memory scan result cache
type MemoryCache struct {
	entries     map[string]memoryEntry
	mu          sync.RWMutex
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

// NewMemoryCache creates a new in-memory cache; a positive cleanupFreq starts a sweeper
func NewMemoryCache(logger *zap.Logger, cleanupFreq time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:     make(map[string]memoryEntry),
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}

	if cleanupFreq > 0 {
		go c.startCleanupTask()
	}

	return c
}

// Get returns a live entry for the provider and hash
func (c *MemoryCache) Get(ctx context.Context, provider, sha256 string) (*core.ScanResult, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[Key(provider, sha256)]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false, nil
	}

	res := entry.result
	res.Evidence = append([]string(nil), entry.result.Evidence...)
	return &res, true, nil
}

// Set stores a scan result for ttl
func (c *MemoryCache) Set(ctx context.Context, provider, sha256 string, result *core.ScanResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{result: *result, expiresAt: c.now().Add(ttl)}
	entry.result.Evidence = append([]string(nil), result.Evidence...)
	c.entries[Key(provider, sha256)] = entry
	return nil
}

// Cleanup removes expired entries
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiredCount := 0

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			expiredCount++
		}
	}

	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", expiredCount))
	return nil
}

func (c *MemoryCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Key builds the cache key of a scan result
func Key(provider, sha256 string) string {
	return "scan:" + provider + ":" + sha256
}
