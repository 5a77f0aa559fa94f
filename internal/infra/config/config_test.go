package config

import (
	"strings"
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
)

func TestDefaults(t *testing.T) {
	t.Setenv("TG_BOT_TOKEN", "token")
	t.Setenv("STAFF_CHAT_ID", "-1001")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ADMIN_IDS", "1,2")

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.HunterInterval().Seconds() != 1200 {
		t.Fatalf("hunter interval = %v", cfg.HunterInterval())
	}
	if cfg.SchedulerInterval().Seconds() != 60 {
		t.Fatalf("scheduler interval = %v", cfg.SchedulerInterval())
	}
	if cfg.Scheduler.Batch != 32 || cfg.Scheduler.Attempts != 3 || cfg.MailboxSize != 32 {
		t.Fatalf("unexpected defaults: %+v %d", cfg.Scheduler, cfg.MailboxSize)
	}
	if len(cfg.Staff.Admins) != 2 || cfg.Staff.Admins[1] != 2 {
		t.Fatalf("admins = %v", cfg.Staff.Admins)
	}
	if cfg.MTProto.ResolveFloor.Seconds() != 60 {
		t.Fatalf("resolve floor = %v", cfg.MTProto.ResolveFloor)
	}
	if cfg.Telegram.PollTimeout != 10 || cfg.Telegram.InitDataTTL != 24*time.Hour {
		t.Fatalf("telegram defaults = %d %v", cfg.Telegram.PollTimeout, cfg.Telegram.InitDataTTL)
	}
}

func TestPollTimeoutBelowClientTimeout(t *testing.T) {
	t.Setenv("TG_BOT_TOKEN", "token")
	t.Setenv("STAFF_CHAT_ID", "-1001")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TG_POLL_TIMEOUT", "30")

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("process: %v", err)
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "TG_POLL_TIMEOUT") {
		t.Fatalf("validate = %v", err)
	}

	cfg.Telegram.WebhookURL = "https://example.org/bot/webhook"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("webhook mode: %v", err)
	}
}

func TestValidateReportsMissing(t *testing.T) {
	var cfg AppConfig
	cfg.Store.Driver = "postgres"
	cfg.Queues.Driver = "redis"
	cfg.Scheduler.Batch = 32
	cfg.Scheduler.Attempts = 3

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"TG_BOT_TOKEN", "STAFF_CHAT_ID", "PG_DSN", "REDIS_ADDR"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not mention %s", err, key)
		}
	}
}

func TestNormalizeTimezone(t *testing.T) {
	tests := map[string]string{
		"Europe/Moscow":       "Europe/Moscow",
		"europe/moscow":       "Europe/Moscow",
		" Europe Moscow ":     "Europe/Moscow",
		"america/new_york":    "America/New_York",
		"asia/yekaterinburg":  "Asia/Yekaterinburg",
		"europe/kaliningrad ": "Europe/Kaliningrad",
	}
	for in, want := range tests {
		got, err := NormalizeTimezone(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %q, want %q", in, got, want)
		}
	}
	if _, err := NormalizeTimezone("Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
	if _, err := NormalizeTimezone(""); err == nil {
		t.Fatal("expected error for empty zone")
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	var cfg AppConfig
	cfg.TZ = "Mars/Olympus"
	if cfg.Location() != time.UTC {
		t.Fatal("expected UTC")
	}
	cfg.TZ = "europe/moscow"
	if got := cfg.Location().String(); got != "Europe/Moscow" {
		t.Fatalf("got %s", got)
	}
}
