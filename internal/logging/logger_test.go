package logging

import (
	"testing"

	"github.com/mikey/mail-risk/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestInitLoggerFromConfig(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("logging.level", "debug")
	v.Set("logging.format", "console")

	logger, err := InitLogger(config.NewFromViper(v))
	if err != nil {
		t.Fatalf("InitLogger() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled")
	}
}
