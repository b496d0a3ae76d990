package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"bruteguard/internal/config"
	"bruteguard/internal/model"
)

// EventStore is the append-only event table plus the one aggregate query
// detection needs.
type EventStore interface {
	Init(ctx context.Context) error
	Close() error
	Insert(ctx context.Context, ev model.LogEvent) error
	// FailedLogins yields one candidate per principal with at least
	// q.Threshold events of q.EventType in [q.Start, q.End]. A query error is
	// yielded once and ends the sequence.
	FailedLogins(ctx context.Context, q Query) iter.Seq2[model.Candidate, error]
}

type Query struct {
	EventType string
	Start     time.Time
	End       time.Time
	Threshold int
}

// QueryFor maps a defaulted detection window onto a store query.
func QueryFor(w model.DetectionWindow) Query {
	start, end := w.Bounds()
	return Query{EventType: w.EventType, Start: start, End: end, Threshold: w.FailureThreshold}
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

func NewStore(cfg config.StorageConfig) (EventStore, error) {
	if cfg.Table != "" && !config.ValidIdentifier(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Dataset != "" && !config.ValidIdentifier(cfg.Dataset) {
		return nil, fmt.Errorf("invalid dataset name %q", cfg.Dataset)
	}
	table := cfg.Table
	if table == "" {
		table = "logs"
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DSN, table, cfg.Dedupe)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN, cfg.Dataset, table, cfg.Dedupe)
	case "clickhouse":
		return NewClickHouse(cfg.DSN, cfg.Dataset, table)
	case "memory":
		return NewMemory(cfg.Dedupe), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func yieldErr(yield func(model.Candidate, error) bool, err error) {
	yield(model.Candidate{}, err)
}
