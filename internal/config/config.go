package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Notifier  NotifierConfig  `json:"notifier" yaml:"notifier"`
	API       APIConfig       `json:"api" yaml:"api"`
	Outcomes  OutcomesConfig  `json:"outcomes" yaml:"outcomes"`
}

type IngestConfig struct {
	Addr           string        `json:"addr" yaml:"addr"`
	MaxBodyBytes   int64         `json:"max_body_bytes" yaml:"max_body_bytes"`
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
	OutcomeBuffer  int           `json:"outcome_buffer" yaml:"outcome_buffer"`

	// RateLimit is sustained requests per second per client IP. Zero disables.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`
}

type TransportConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	Topic  string      `json:"topic" yaml:"topic"`
	Kafka  KafkaConfig `json:"kafka" yaml:"kafka"`
	Retry  RetryConfig `json:"retry" yaml:"retry"`
}

type KafkaConfig struct {
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	GroupID      string        `json:"group_id" yaml:"group_id"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
}

type RetryConfig struct {
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

type StorageConfig struct {
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
	Dataset string `json:"dataset" yaml:"dataset"`
	Table   string `json:"table" yaml:"table"`
	Dedupe  bool   `json:"dedupe" yaml:"dedupe"`
}

type DetectionConfig struct {
	WindowMinutes    int           `json:"window_minutes" yaml:"window_minutes"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	EventType        string        `json:"event_type" yaml:"event_type"`
	Interval         time.Duration `json:"interval" yaml:"interval"`
	QueryTimeout     time.Duration `json:"query_timeout" yaml:"query_timeout"`
	AlertCooldown    time.Duration `json:"alert_cooldown" yaml:"alert_cooldown"`
	CooldownStore    string        `json:"cooldown_store" yaml:"cooldown_store"`
	RedisAddr        string        `json:"redis_addr" yaml:"redis_addr"`
}

type NotifierConfig struct {
	SMTPHost string        `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort int           `json:"smtp_port" yaml:"smtp_port"`
	Username string        `json:"username" yaml:"username"`
	Password string        `json:"password" yaml:"password"`
	From     string        `json:"from" yaml:"from"`
	To       []string      `json:"to" yaml:"to"`
	UseTLS   bool          `json:"use_tls" yaml:"use_tls"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Breaker  BreakerConfig `json:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type OutcomesConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

// Configured reports whether credentials and recipients are present.
func (n NotifierConfig) Configured() bool {
	return n.Username != "" && n.Password != "" && len(n.To) > 0
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			Addr:           ":8080",
			MaxBodyBytes:   1 << 20,
			PublishTimeout: 10 * time.Second,
			OutcomeBuffer:  1024,
		},
		Transport: TransportConfig{
			Driver: "kafka",
			Topic:  "security-logs",
			Kafka: KafkaConfig{
				Brokers:      []string{"localhost:9092"},
				GroupID:      "bruteguard-persister",
				BatchTimeout: 10 * time.Millisecond,
			},
			Retry: RetryConfig{InitialBackoff: 200 * time.Millisecond, MaxBackoff: 30 * time.Second},
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DSN:     "file:bruteguard.db?_pragma=busy_timeout(5000)",
			Dataset: "security",
			Table:   "logs",
		},
		Detection: DetectionConfig{
			WindowMinutes:    5,
			FailureThreshold: 5,
			EventType:        "login_failed",
			QueryTimeout:     30 * time.Second,
			CooldownStore:    "memory",
		},
		Notifier: NotifierConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
			UseTLS:   true,
			Timeout:  30 * time.Second,
			Breaker:  BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute},
		},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Outcomes: OutcomesConfig{StoreLimit: 1000},
	}
}

// Load reads a YAML or JSON file on top of the defaults, then applies
// environment overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(content))
		if len(trimmed) == 0 {
			return nil, errors.New("config file is empty")
		}
		var decodeErr error
		if looksLikeJSON(trimmed) {
			decodeErr = json.Unmarshal([]byte(trimmed), cfg)
		} else {
			decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, decodeErr)
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Ingest.MaxBodyBytes <= 0 {
		cfg.Ingest.MaxBodyBytes = def.Ingest.MaxBodyBytes
	}
	if cfg.Ingest.PublishTimeout <= 0 {
		cfg.Ingest.PublishTimeout = def.Ingest.PublishTimeout
	}
	if cfg.Ingest.OutcomeBuffer <= 0 {
		cfg.Ingest.OutcomeBuffer = def.Ingest.OutcomeBuffer
	}
	if cfg.Transport.Topic == "" {
		cfg.Transport.Topic = def.Transport.Topic
	}
	if cfg.Transport.Retry.InitialBackoff <= 0 {
		cfg.Transport.Retry.InitialBackoff = def.Transport.Retry.InitialBackoff
	}
	if cfg.Transport.Retry.MaxBackoff <= 0 {
		cfg.Transport.Retry.MaxBackoff = def.Transport.Retry.MaxBackoff
	}
	if cfg.Transport.Kafka.GroupID == "" {
		cfg.Transport.Kafka.GroupID = def.Transport.Kafka.GroupID
	}
	if cfg.Storage.Dataset == "" {
		cfg.Storage.Dataset = def.Storage.Dataset
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = def.Storage.Table
	}
	if cfg.Detection.WindowMinutes <= 0 {
		cfg.Detection.WindowMinutes = def.Detection.WindowMinutes
	}
	if cfg.Detection.FailureThreshold <= 0 {
		cfg.Detection.FailureThreshold = def.Detection.FailureThreshold
	}
	if cfg.Detection.EventType == "" {
		cfg.Detection.EventType = def.Detection.EventType
	}
	if cfg.Detection.QueryTimeout <= 0 {
		cfg.Detection.QueryTimeout = def.Detection.QueryTimeout
	}
	if cfg.Detection.CooldownStore == "" {
		cfg.Detection.CooldownStore = def.Detection.CooldownStore
	}
	if cfg.Notifier.SMTPPort <= 0 {
		cfg.Notifier.SMTPPort = def.Notifier.SMTPPort
	}
	if cfg.Notifier.Timeout <= 0 {
		cfg.Notifier.Timeout = def.Notifier.Timeout
	}
	if cfg.Notifier.From == "" {
		cfg.Notifier.From = cfg.Notifier.Username
	}
	if cfg.Notifier.Breaker.FailureThreshold == 0 {
		cfg.Notifier.Breaker.FailureThreshold = def.Notifier.Breaker.FailureThreshold
	}
	if cfg.Notifier.Breaker.OpenTimeout <= 0 {
		cfg.Notifier.Breaker.OpenTimeout = def.Notifier.Breaker.OpenTimeout
	}
	if cfg.Outcomes.StoreLimit <= 0 {
		cfg.Outcomes.StoreLimit = def.Outcomes.StoreLimit
	}
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to splice into SQL as a name.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

func Validate(cfg *Config) error {
	if cfg.Ingest.Addr == "" {
		return errors.New("ingest.addr required")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	switch strings.ToLower(cfg.Transport.Driver) {
	case "kafka":
		if len(cfg.Transport.Kafka.Brokers) == 0 {
			return errors.New("transport.kafka.brokers required when transport.driver is kafka")
		}
	case "memory", "log":
	default:
		return fmt.Errorf("unsupported transport driver: %q", cfg.Transport.Driver)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql", "clickhouse", "memory":
	default:
		return fmt.Errorf("unsupported storage driver: %q", cfg.Storage.Driver)
	}
	if !ValidIdentifier(cfg.Storage.Dataset) {
		return fmt.Errorf("storage.dataset is not a valid identifier: %q", cfg.Storage.Dataset)
	}
	if !ValidIdentifier(cfg.Storage.Table) {
		return fmt.Errorf("storage.table is not a valid identifier: %q", cfg.Storage.Table)
	}
	if cfg.Ingest.RateLimit < 0 {
		return errors.New("ingest.rate_limit must be >= 0")
	}
	if cfg.Detection.Interval < 0 {
		return errors.New("detection.interval must be >= 0")
	}
	if cfg.Detection.AlertCooldown < 0 {
		return errors.New("detection.alert_cooldown must be >= 0")
	}
	switch strings.ToLower(cfg.Detection.CooldownStore) {
	case "memory":
	case "redis":
		if cfg.Detection.RedisAddr == "" {
			return errors.New("detection.redis_addr required when detection.cooldown_store is redis")
		}
	default:
		return fmt.Errorf("unsupported cooldown store: %q", cfg.Detection.CooldownStore)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

// NewStaticManager wraps an already loaded config. It never reloads.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the config file and calls onReload after every successful
// reload. It returns when stop is closed.
func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
