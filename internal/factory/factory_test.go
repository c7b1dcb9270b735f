package factory

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/mikey/mail-risk/internal/adapters/scanner"
	"github.com/mikey/mail-risk/internal/config"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/utils"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T, values map[string]any) *config.Config {
	t.Helper()
	v := config.NewEmptyViper()
	for k, val := range values {
		v.Set(k, val)
	}
	return config.NewFromViper(v)
}

func TestCreateStore(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		values  map[string]any
		wantErr string
	}{
		{name: "memory", values: map[string]any{"store.type": "memory"}},
		{name: "sqlite", values: map[string]any{
			"store.type":        "sqlite",
			"store.sqlite_path": filepath.Join(t.TempDir(), "nested", "analyses.db"),
		}},
		{name: "mysql without dsn", values: map[string]any{"store.type": "mysql", "store.mysql_dsn": ""}, wantErr: "mysql_dsn"},
		{name: "postgres without dsn", values: map[string]any{"store.type": "postgres"}, wantErr: "postgres_dsn"},
		{name: "unknown", values: map[string]any{"store.type": "etcd"}, wantErr: "unsupported store type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStoreFactory(testConfig(t, tt.values), logger).CreateStore()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("CreateStore() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateStore() error = %v", err)
			}
			s.Stop()
		})
	}
}

func TestCreateScanner(t *testing.T) {
	logger := zaptest.NewLogger(t)

	f := NewScannerFactory(testConfig(t, map[string]any{"scanner.provider": "disabled"}), logger)
	s, err := f.CreateScanner(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(scanner.Disabled); !ok {
		t.Errorf("CreateScanner() = %T, want scanner.Disabled", s)
	}

	f = NewScannerFactory(testConfig(t, map[string]any{"scanner.provider": "virustotal"}), logger)
	if _, err := f.CreateScanner(nil); err == nil {
		t.Error("CreateScanner() expected error without an API key")
	}

	f = NewScannerFactory(testConfig(t, map[string]any{
		"scanner.provider":     "metadefender",
		"metadefender.api_key": "k",
		"scan_cache.type":      "memory",
	}), logger)
	cache, err := f.CreateScanCache()
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Stop()
	s, err = f.CreateScanner(cache)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*scanner.Cached); !ok {
		t.Errorf("CreateScanner() = %T, want *scanner.Cached", s)
	}
	if s.Name() != "metadefender" {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestCreateScanCacheNone(t *testing.T) {
	f := NewScannerFactory(testConfig(t, map[string]any{"scan_cache.type": "none"}), zaptest.NewLogger(t))
	cache, err := f.CreateScanCache()
	if err != nil || cache != nil {
		t.Errorf("CreateScanCache() = %v, %v; want nil, nil", cache, err)
	}
}

func TestCreateNarrativeGenerator(t *testing.T) {
	logger := zaptest.NewLogger(t)

	for _, provider := range []string{"template", "groq"} {
		f := NewNarrativeFactory(testConfig(t, map[string]any{"narrative.provider": provider}), logger)
		if g, err := f.CreateNarrativeGenerator(); err != nil || g == nil {
			t.Errorf("%s: CreateNarrativeGenerator() = %v, %v", provider, g, err)
		}
	}

	f := NewNarrativeFactory(testConfig(t, map[string]any{"narrative.provider": "openai"}), logger)
	if _, err := f.CreateNarrativeGenerator(); err == nil {
		t.Error("openai: expected error without an API key")
	}

	f = NewNarrativeFactory(testConfig(t, map[string]any{"narrative.provider": "carrier-pigeon"}), logger)
	if _, err := f.CreateNarrativeGenerator(); err == nil || !strings.Contains(err.Error(), "unsupported narrative provider") {
		t.Errorf("CreateNarrativeGenerator() error = %v", err)
	}
}

func TestCreatePromptBuilderTruncatesBody(t *testing.T) {
	cfg := testConfig(t, map[string]any{
		"narrative.max_body_size": 16,
		"narrative.language":      "English",
	})
	prompts, err := NewNarrativeFactory(cfg, zaptest.NewLogger(t)).CreatePromptBuilder()
	if err != nil {
		t.Fatalf("CreatePromptBuilder() error = %v", err)
	}

	rec := &core.AnalysisRecord{Title: "t", Subject: "s", Body: strings.Repeat("long body ", 20)}
	clf := &core.ClassificationResult{Label: core.LabelSpam, Score: 70}
	p := prompts.Build(rec, clf, nil, core.Verdict{Label: core.LabelSpam, Score: 70})

	if !strings.Contains(p.System, "English") {
		t.Errorf("system prompt does not use the configured language: %q", p.System)
	}
	if !strings.Contains(p.User, utils.TruncationMarker) || strings.Contains(p.User, rec.Body) {
		t.Errorf("body not truncated to narrative.max_body_size: %q", p.User)
	}
}

func TestCreateServersHonoursIntakeSwitch(t *testing.T) {
	logger := zaptest.NewLogger(t)

	servers := NewServerFactory(testConfig(t, nil), logger).CreateServers(nil)
	if len(servers) != 1 {
		t.Errorf("CreateServers() = %d servers, want only the HTTP API", len(servers))
	}

	servers = NewServerFactory(testConfig(t, map[string]any{"intake.enabled": true}), logger).CreateServers(nil)
	if len(servers) != 2 {
		t.Errorf("CreateServers() = %d servers, want HTTP API and SMTP intake", len(servers))
	}
}
