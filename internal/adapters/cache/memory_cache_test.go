package cache

import (
	"context"
	"testing"
	"time"

	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap/zaptest"
)

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(zaptest.NewLogger(t), 0)
	defer c.Stop()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	res := &core.ScanResult{Status: core.ScanCompleted, Score: 90, Evidence: []string{"VirusTotal: malicious=6"}}
	if err := c.Set(ctx, "virustotal", "abc", res, time.Hour); err != nil {
		t.Fatal(err)
	}
	res.Evidence[0] = "mutated"

	got, ok, err := c.Get(ctx, "virustotal", "abc")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	if got.Score != 90 || got.Evidence[0] != "VirusTotal: malicious=6" {
		t.Errorf("cached result = %+v", got)
	}

	if _, ok, _ := c.Get(ctx, "metadefender", "abc"); ok {
		t.Error("Get() hit for another provider")
	}

	now = now.Add(2 * time.Hour)
	if _, ok, _ := c.Get(ctx, "virustotal", "abc"); ok {
		t.Error("Get() returned an expired entry")
	}
	if err := c.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}
	if len(c.entries) != 0 {
		t.Errorf("entries after cleanup = %d", len(c.entries))
	}
}

func TestKey(t *testing.T) {
	if got := Key("virustotal", "ff"); got != "scan:virustotal:ff" {
		t.Errorf("Key() = %q", got)
	}
}
