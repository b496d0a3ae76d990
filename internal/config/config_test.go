package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Detection.WindowMinutes != 5 || cfg.Detection.FailureThreshold != 5 {
		t.Fatalf("unexpected detection defaults: %+v", cfg.Detection)
	}
	if cfg.Notifier.Configured() {
		t.Fatalf("notifier should not be configured by default")
	}
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	content := `
detection:
  window_minutes: 10
  alert_cooldown: 15m
storage:
  driver: memory
transport:
  driver: memory
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.WindowMinutes != 10 {
		t.Fatalf("window: %d", cfg.Detection.WindowMinutes)
	}
	if cfg.Detection.FailureThreshold != 5 {
		t.Fatalf("threshold default lost: %d", cfg.Detection.FailureThreshold)
	}
	if cfg.Detection.AlertCooldown != 15*time.Minute {
		t.Fatalf("cooldown: %s", cfg.Detection.AlertCooldown)
	}
	if cfg.Storage.Table != "logs" {
		t.Fatalf("table default lost: %q", cfg.Storage.Table)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, []byte(`{"storage":{"driver":"memory","table":"events"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Table != "events" || cfg.Storage.Driver != "memory" {
		t.Fatalf("json not applied: %+v", cfg.Storage)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(path, []byte("   \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnv(cfg, mapLookup(map[string]string{
		"PORT":              "9090",
		"KAFKA_BROKERS":     "a:9092, b:9092",
		"KAFKA_TOPIC":       "auth-events",
		"WINDOW_MINUTES":    "15",
		"FAILURE_THRESHOLD": "not-a-number",
		"SMTP_USER":         "alerts@example.com",
		"SMTP_PASS":         "secret",
		"ALERT_TO":          "soc@example.com",
		"INGEST_RATE_LIMIT": "2.5",
	}))
	if cfg.Ingest.RateLimit != 2.5 {
		t.Fatalf("rate limit: %v", cfg.Ingest.RateLimit)
	}
	if cfg.Ingest.Addr != ":9090" {
		t.Fatalf("addr: %q", cfg.Ingest.Addr)
	}
	if len(cfg.Transport.Kafka.Brokers) != 2 || cfg.Transport.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("brokers: %v", cfg.Transport.Kafka.Brokers)
	}
	if cfg.Transport.Topic != "auth-events" {
		t.Fatalf("topic: %q", cfg.Transport.Topic)
	}
	if cfg.Detection.WindowMinutes != 15 {
		t.Fatalf("window: %d", cfg.Detection.WindowMinutes)
	}
	if cfg.Detection.FailureThreshold != 5 {
		t.Fatalf("malformed threshold should be ignored, got %d", cfg.Detection.FailureThreshold)
	}
	if !cfg.Notifier.Configured() {
		t.Fatalf("notifier should be configured")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad table":          func(c *Config) { c.Storage.Table = "logs; DROP TABLE x" },
		"bad dataset":        func(c *Config) { c.Storage.Dataset = "1abc" },
		"bad storage driver": func(c *Config) { c.Storage.Driver = "bigtable" },
		"bad transport":      func(c *Config) { c.Transport.Driver = "carrier-pigeon" },
		"kafka no brokers":   func(c *Config) { c.Transport.Kafka.Brokers = nil },
		"redis no addr":      func(c *Config) { c.Detection.CooldownStore = "redis" },
		"negative interval":  func(c *Config) { c.Detection.Interval = -time.Second },
		"negative rate":      func(c *Config) { c.Ingest.RateLimit = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  failure_threshold: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if got := m.Get().Detection.FailureThreshold; got != 7 {
		t.Fatalf("threshold: %d", got)
	}
	if err := os.WriteFile(path, []byte("detection:\n  failure_threshold: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Detection.FailureThreshold != 9 || m.Get().Detection.FailureThreshold != 9 {
		t.Fatalf("reload not applied")
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bruteguard.yaml")
	cfg := DefaultConfig()
	cfg.Detection.WindowMinutes = 10
	cfg.Detection.AlertCooldown = 15 * time.Minute
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Detection.WindowMinutes != 10 || got.Detection.AlertCooldown != 15*time.Minute {
		t.Fatalf("round trip lost values: %+v", got.Detection)
	}
	if err := Save("", cfg); err == nil {
		t.Fatalf("empty path should fail")
	}
}
