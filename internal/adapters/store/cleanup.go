// Package store holds the analysis record stores.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type cleanupTarget interface {
	Cleanup(ctx context.Context, before time.Time) (int, error)
}

// cleaner periodically deletes finished analyses older than the retention period
type cleaner struct {
	target    cleanupTarget
	logger    *zap.Logger
	retention time.Duration
	freq      time.Duration
	stopCh    chan struct{}
	once      sync.Once
}

// startCleaner starts the cleanup task; it does nothing when retention is not positive
func startCleaner(target cleanupTarget, logger *zap.Logger, retention, freq time.Duration) *cleaner {
	c := &cleaner{
		target:    target,
		logger:    logger,
		retention: retention,
		freq:      freq,
		stopCh:    make(chan struct{}),
	}
	if retention > 0 && freq > 0 {
		go c.run()
	}
	return c
}

func (c *cleaner) run() {
	ticker := time.NewTicker(c.freq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := c.target.Cleanup(context.Background(), time.Now().UTC().Add(-c.retention))
			if err != nil {
				c.logger.Error("Failed to clean up analyses", zap.Error(err))
				continue
			}
			c.logger.Debug("Cleaned up finished analyses", zap.Int("removed", removed))
		case <-c.stopCh:
			return
		}
	}
}

func (c *cleaner) stop() {
	c.once.Do(func() { close(c.stopCh) })
}
