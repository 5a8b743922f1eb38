package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/models"
)

func TestLoad_CreatesTemplate(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if !cfg.IsPaperMode() {
		t.Errorf("default mode should be paper, got %q", cfg.Trading.Mode)
	}
	if cfg.Broker.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.Broker.Timeout)
	}
	if cfg.Database.ConnStr != filepath.Join(dir, "orders.db") {
		t.Errorf("conn_str = %q", cfg.Database.ConnStr)
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[trading]
mode = "paper"

[accounts.domestic]
account = "5005775101"
password = "password"

[broker]
timeout = "3s"

[database]
conn_str = "/tmp/journal.db"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", cfg.Broker.Timeout)
	}
	if got := cfg.Get("database", "conn_str"); got != "/tmp/journal.db" {
		t.Errorf("Get(database, conn_str) = %q", got)
	}
	if got := cfg.Get("DATABASE", "CONN_STR"); got != "/tmp/journal.db" {
		t.Errorf("Get is case-insensitive, got %q", got)
	}

	acct, err := cfg.DefaultAccount(models.Domestic)
	if err != nil {
		t.Fatalf("DefaultAccount: %v", err)
	}
	if acct.Account != "5005775101" || acct.Password != "password" {
		t.Errorf("unexpected account %+v", acct)
	}

	if _, err := cfg.DefaultAccount(models.Overseas); !errors.Is(err, apperrors.ErrAccountUnavailable) {
		t.Errorf("missing overseas account should be unavailable, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if _, err := FromMap(map[string]interface{}{"trading.mode": "yolo"}); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("invalid mode should fail, got %v", err)
	}
	if _, err := FromMap(map[string]interface{}{"trading.mode": "live"}); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("live mode without app key should fail, got %v", err)
	}
	cfg, err := FromMap(map[string]interface{}{
		"trading.mode":      "live",
		"broker.app_key":    "key",
		"broker.app_secret": "secret",
	})
	if err != nil {
		t.Fatalf("valid live config rejected: %v", err)
	}
	if cfg.IsPaperMode() {
		t.Error("live config reported paper mode")
	}
}
