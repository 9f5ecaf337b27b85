package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"carelink/pkg/logx"
)

const sampleYAML = `
logging:
  level: info
  console: true
scheduler:
  inventory_check:
    enabled: true
    interval: 12h
    run_at_start: true
  reminder_emails:
    enabled: false
    interval: 24h
queue:
  address: 127.0.0.1:6379
  stream: carelink:notifications
  read_block: 5s
dispatch:
  mode: development
  sms:
    account: acct
    token: tok
    endpoint: https://gateway.example/messages
    from: "+15550000"
reminders:
  coordinator_email: coord@example.org
storage:
  path: /tmp/deliveries.db
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "info" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if !cfg.Scheduler.InventoryCheck.Enabled || cfg.Scheduler.InventoryCheck.Interval != "12h" {
		t.Fatalf("inventory_check = %+v", cfg.Scheduler.InventoryCheck)
	}
	if cfg.Scheduler.ReminderEmails.Enabled {
		t.Fatal("reminder_emails should be disabled")
	}
	if cfg.Queue.Address != "127.0.0.1:6379" || cfg.Queue.Stream != "carelink:notifications" {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if cfg.Dispatch.Mode != "development" || cfg.Dispatch.SMS.Token != "tok" {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Reminders.CoordinatorEmail != "coord@example.org" {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	if got := m.Get(); got == nil || got.Storage.Path != "/tmp/deliveries.db" {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	m := NewManager(writeConfig(t, sampleYAML+"\nnot_a_real_section:\n  x: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CARELINK_MODE", "disabled")
	t.Setenv("CARELINK_LOG_LEVEL", "debug")
	t.Setenv("CARELINK_ENABLE_REMINDER_EMAILS", "true")
	t.Setenv("CARELINK_SMS_TOKEN", "env-token")

	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.Mode != "disabled" {
		t.Fatalf("mode = %q, env should win", cfg.Dispatch.Mode)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if !cfg.Scheduler.ReminderEmails.Enabled {
		t.Fatal("env should flip reminder_emails on")
	}
	if cfg.Dispatch.SMS.Token != "env-token" {
		t.Fatalf("sms token = %q", cfg.Dispatch.SMS.Token)
	}
}

func TestApplyEnvIgnoresEmptyValues(t *testing.T) {
	cfg := &Config{}
	cfg.Dispatch.Mode = "production"
	ApplyEnv(cfg, func(string) string { return "" })
	if cfg.Dispatch.Mode != "production" {
		t.Fatalf("empty env value must not clear mode, got %q", cfg.Dispatch.Mode)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty value should yield default, got %v, %v", d, err)
	}
	d, err = ParseDuration("x", "2m", 5*time.Second)
	if err != nil || d != 2*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDuration("x", "ninety", 5*time.Second)
	if err == nil {
		t.Fatal("want error for junk duration")
	}
	if d != 5*time.Second {
		t.Fatalf("junk value should still return the default, got %v", d)
	}
	if _, err := ParseDuration("x", "-1s", 5*time.Second); err == nil {
		t.Fatal("want error for negative duration")
	}
}

func TestWatchPublishesChangedConfig(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	m := NewManager(path)
	m.SetLogger(logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan error, 1)
	go func() { watchDone <- m.Watch(ctx) }()

	// Give the watcher a beat to register before the write.
	time.Sleep(100 * time.Millisecond)

	updated := sampleYAML + "\nrealtime:\n  addr: 127.0.0.1:8090\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-updates:
		if cfg.Realtime.Addr != "127.0.0.1:8090" {
			t.Fatalf("reloaded config = %+v", cfg.Realtime)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published after file change")
	}

	cancel()
	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatalf("Watch returned %v on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
