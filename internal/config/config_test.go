package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	if got := cfg.GetModel().Path; got != "model/model.json" {
		t.Errorf("model path = %q", got)
	}
	n, err := cfg.GetNarrative()
	if err != nil {
		t.Fatal(err)
	}
	if n.FlushInterval != time.Second || n.Provider != "template" {
		t.Errorf("narrative = %+v", n)
	}
	if got := cfg.GetGroq().BaseURL; got != "https://api.groq.com/openai/v1" {
		t.Errorf("groq base url = %q", got)
	}
	s, err := cfg.GetStore()
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != "memory" || s.Retention != 0 {
		t.Errorf("store = %+v", s)
	}
	sc, err := cfg.GetScanner()
	if err != nil {
		t.Fatal(err)
	}
	if sc.Timeout != 30*time.Second || sc.MaxPolls != 12 {
		t.Errorf("scanner = %+v", sc)
	}
}

func TestModelPathFromEnv(t *testing.T) {
	t.Setenv("PERCEPTRON_MODEL_PATH", "/models/legacy.json")
	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := cfg.GetModel().Path; got != "/models/legacy.json" {
		t.Errorf("model path = %q", got)
	}

	t.Setenv("MAIL_RISK_MODEL_PATH", "/models/current.json")
	cfg, err = New()
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetModel().Path; got != "/models/current.json" {
		t.Errorf("model path = %q, want the MAIL_RISK variable to win", got)
	}
}

func TestEnvOverridesNestedKeys(t *testing.T) {
	t.Setenv("MAIL_RISK_STORE_TYPE", "sqlite")
	cfg, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetString("store.type"); got != "sqlite" {
		t.Errorf("store.type = %q", got)
	}
}

func TestInvalidDuration(t *testing.T) {
	v := NewEmptyViper()
	v.Set("store.retention", "soon")
	if _, err := NewFromViper(v).GetStore(); err == nil {
		t.Error("GetStore() expected error for invalid duration")
	}
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail-risk.yaml")
	data := "store:\n  type: sqlite\nnarrative:\n  provider: groq\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile() error = %v", err)
	}
	if got := cfg.GetString("store.type"); got != "sqlite" {
		t.Errorf("store.type = %q", got)
	}
	n, err := cfg.GetNarrative()
	if err != nil {
		t.Fatal(err)
	}
	if n.Provider != "groq" || n.MaxBodySize != 4096 {
		t.Errorf("narrative = %+v, want file value and defaults", n)
	}

	if _, err := NewFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("NewFromFile() expected error for a missing file")
	}
}
