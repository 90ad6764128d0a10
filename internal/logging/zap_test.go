package logging_test

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

func TestZapLogger_WithCarriesFields(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	l := logging.NewZapLoggerFrom(zap.New(core))

	child := l.With(logging.Component("scanner"))
	child.Info("scan finished", logging.Field{Key: "scan_id", Value: "123"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["component"] != "scanner" {
		t.Errorf("expected component=scanner, got %v", ctx["component"])
	}
	if ctx["scan_id"] != "123" {
		t.Errorf("expected scan_id=123, got %v", ctx["scan_id"])
	}
}

func TestZapLogger_LevelsRouted(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	l := logging.NewZapLoggerFrom(zap.New(core))

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	want := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	got := logs.All()
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.Level != want[i] {
			t.Errorf("entry %d: expected level %v, got %v", i, want[i], e.Level)
		}
	}
}

func TestNewZapLogger_RejectsUnknownLevel(t *testing.T) {
	t.Parallel()
	cfg := logging.DefaultConfig()
	cfg.Level = "chatty"
	if _, err := logging.NewZapLogger(cfg); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewZapLogger_RejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	cfg := logging.DefaultConfig()
	cfg.Format = "xml"
	if _, err := logging.NewZapLogger(cfg); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNopLogger_WithReturnsUsableLogger(t *testing.T) {
	t.Parallel()
	l := logging.NewNopLogger().With(logging.Component("x"))
	l.Info("ignored")
	if l == nil {
		t.Fatal("With returned nil")
	}
}
