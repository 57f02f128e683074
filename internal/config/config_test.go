package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.ListenAddr != "127.0.0.1:8787" {
		t.Fatalf("listen addr = %q", cfg.HTTP.ListenAddr)
	}
	if cfg.Vault.AreasFile != "areas.md" || cfg.Vault.ObjectivesFile != "objectives.md" {
		t.Fatalf("vault doc defaults = %q / %q", cfg.Vault.AreasFile, cfg.Vault.ObjectivesFile)
	}
	if cfg.Vault.QueueCapacity != 256 || !cfg.Vault.Watch {
		t.Fatalf("vault defaults = %+v", cfg.Vault)
	}
	if cfg.Storage.Profile != "durable-local" {
		t.Fatalf("storage profile = %q", cfg.Storage.Profile)
	}
	if cfg.Schedule.DigestCron != "0 8 * * *" {
		t.Fatalf("digest cron = %q", cfg.Schedule.DigestCron)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := writeConfig(t, `
vault:
  dir: /notes/vault
  queue_capacity: 64
http:
  listen_addr: 127.0.0.1:9999
  auth_secret: hunter2
ntfy:
  topic: zortex-alerts
rewards:
  base_task_xp: 20
  tiers:
    - level: 1
      name: Stone
    - level: 5
      name: Iron
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vault.Dir != "/notes/vault" || cfg.Vault.QueueCapacity != 64 {
		t.Fatalf("vault = %+v", cfg.Vault)
	}
	if cfg.HTTP.ListenAddr != "127.0.0.1:9999" || cfg.HTTP.AuthSecret != "hunter2" {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if cfg.Ntfy.Topic != "zortex-alerts" || cfg.Ntfy.ServerURL != "https://ntfy.sh" {
		t.Fatalf("ntfy = %+v", cfg.Ntfy)
	}

	ec := cfg.EngineConfig()
	if ec.BaseTaskXP != 20 {
		t.Fatalf("engine base task xp = %d", ec.BaseTaskXP)
	}
	if ec.CompletionBonus != 25 {
		t.Fatalf("unset knobs must keep engine defaults, got bonus %d", ec.CompletionBonus)
	}
	if len(ec.Tiers) != 2 || ec.Tiers[0].Name != "Stone" || ec.Tiers[1].Level != 5 {
		t.Fatalf("tiers = %+v", ec.Tiers)
	}
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
vault:
  dir: /from/file
http:
  listen_addr: 127.0.0.1:1111
`)
	t.Setenv("ZORTEXD_VAULT_DIR", "/from/env")
	t.Setenv("ZORTEXD_LISTEN_ADDR", "127.0.0.1:2222")
	t.Setenv("ZORTEXD_NTFY_TOPIC", "env-topic")
	t.Setenv("ZORTEXD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vault.Dir != "/from/env" {
		t.Fatalf("vault dir = %q", cfg.Vault.Dir)
	}
	if cfg.HTTP.ListenAddr != "127.0.0.1:2222" {
		t.Fatalf("listen addr = %q", cfg.HTTP.ListenAddr)
	}
	if cfg.Ntfy.Topic != "env-topic" {
		t.Fatalf("topic = %q", cfg.Ntfy.Topic)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "vault: [not-a-map")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadRejectsBadListenAddr(t *testing.T) {
	path := writeConfig(t, `
http:
  listen_addr: no-port-here
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "listen_addr") {
		t.Fatalf("expected listen_addr error, got %v", err)
	}
}

func TestLoadRejectsBadCron(t *testing.T) {
	path := writeConfig(t, `
schedule:
  digest_cron: not a cron at all
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "digest_cron") {
		t.Fatalf("expected cron error, got %v", err)
	}
}

func TestLoadRejectsOutOfRangeRates(t *testing.T) {
	path := writeConfig(t, `
rewards:
  bubble_percentage: 1.5
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "bubble_percentage") {
		t.Fatalf("expected rate error, got %v", err)
	}
}

func TestStorageDSNResolution(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ZORTEXD_HOME", home)

	cfg := Config{Storage: StorageConfig{DSN: "postgres://localhost/zortex"}}
	if dsn, err := cfg.StorageDSN(); err != nil || dsn != "postgres://localhost/zortex" {
		t.Fatalf("explicit dsn = %q, %v", dsn, err)
	}

	cfg = Config{Storage: StorageConfig{Profile: "memory"}}
	if dsn, err := cfg.StorageDSN(); err != nil || dsn != "memory://" {
		t.Fatalf("memory profile = %q, %v", dsn, err)
	}

	cfg = Config{Storage: StorageConfig{Profile: "durable-local"}}
	want := "file://" + filepath.Join(home, "state")
	if dsn, err := cfg.StorageDSN(); err != nil || dsn != want {
		t.Fatalf("durable-local = %q, %v (want %q)", dsn, err, want)
	}

	cfg = Config{Storage: StorageConfig{Profile: "production"}}
	if _, err := cfg.StorageDSN(); err == nil {
		t.Fatal("production profile without dsn must error")
	}

	cfg = Config{Storage: StorageConfig{Profile: "floppy"}}
	if _, err := cfg.StorageDSN(); err == nil {
		t.Fatal("unknown profile must error")
	}
}

func TestEngineConfigZeroRewardsKeepDefaults(t *testing.T) {
	ec := Config{}.EngineConfig()
	if ec.BaseTaskXP != 10 {
		t.Fatalf("base task xp = %d", ec.BaseTaskXP)
	}
	if ec.ProjectTransferRate != 0.25 {
		t.Fatalf("transfer rate = %v", ec.ProjectTransferRate)
	}
	if len(ec.Tiers) == 0 {
		t.Fatal("default tiers missing")
	}
}
