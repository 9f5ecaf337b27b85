package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNopIsSilentAndSafe(t *testing.T) {
	l := Nop()
	l.Info("should not appear", String("k", "v"), Err(nil))
	if l.IsZero() {
		t.Fatal("Nop logger should not be the zero Logger")
	}
	if l.Enabled(zerolog.InfoLevel) {
		t.Fatal("Nop logger must not report levels enabled")
	}
}

func TestServiceWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Info("hello from test", String("component", "logx-test"))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "hello from test") || !strings.Contains(out, "logx-test") {
		t.Fatalf("log file content = %q", out)
	}
}

func TestApplySwapsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	svc, log := New(Config{
		Level: "error",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Info("filtered out")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Info("now visible")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "filtered out") {
		t.Fatal("info line leaked through error level")
	}
	if !strings.Contains(out, "now visible") {
		t.Fatalf("reapplied level did not take effect: %q", out)
	}
}

func TestWithAccumulatesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	child := log.With(String("comp", "queue")).With(Int("shard", 3))
	child.Info("field check")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, `"comp":"queue"`) || !strings.Contains(out, `"shard":3`) {
		t.Fatalf("fields missing: %q", out)
	}
}
