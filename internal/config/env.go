package config

import (
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays the recognized environment variables onto cfg.
// Malformed numeric values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if cfg == nil || lookup == nil {
		return
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}

	str("LOG_LEVEL", &cfg.LogLevel)
	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		cfg.Ingest.Addr = ":" + strings.TrimPrefix(strings.TrimSpace(v), ":")
	}
	if v, ok := lookup("INGEST_RATE_LIMIT"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			cfg.Ingest.RateLimit = f
		}
	}
	str("TRANSPORT_DRIVER", &cfg.Transport.Driver)
	str("KAFKA_TOPIC", &cfg.Transport.Topic)
	list("KAFKA_BROKERS", &cfg.Transport.Kafka.Brokers)
	str("KAFKA_GROUP_ID", &cfg.Transport.Kafka.GroupID)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("STORAGE_DSN", &cfg.Storage.DSN)
	str("STORAGE_DATASET", &cfg.Storage.Dataset)
	str("STORAGE_TABLE", &cfg.Storage.Table)
	num("WINDOW_MINUTES", &cfg.Detection.WindowMinutes)
	num("FAILURE_THRESHOLD", &cfg.Detection.FailureThreshold)
	str("REDIS_ADDR", &cfg.Detection.RedisAddr)
	str("SMTP_HOST", &cfg.Notifier.SMTPHost)
	num("SMTP_PORT", &cfg.Notifier.SMTPPort)
	str("SMTP_USER", &cfg.Notifier.Username)
	str("SMTP_PASS", &cfg.Notifier.Password)
	str("SMTP_FROM", &cfg.Notifier.From)
	list("ALERT_TO", &cfg.Notifier.To)
	str("API_ADDR", &cfg.API.Addr)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
