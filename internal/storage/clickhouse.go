package storage

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"bruteguard/internal/model"
)

type clickhouseStore struct {
	conn     driver.Conn
	database string
	table    string
}

// NewClickHouse opens a connection from dsn. The table lives in database
// dataset, falling back to the database named in the DSN.
func NewClickHouse(dsn, dataset, table string) (EventStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "clickhouse://localhost:9000/default"
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse dsn: %w", err)
	}
	if dataset == "" {
		dataset = opts.Auth.Database
	}
	if dataset == "" {
		dataset = "default"
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	return &clickhouseStore{conn: conn, database: dataset, table: table}, nil
}

func (s *clickhouseStore) qualified() string {
	return s.database + "." + s.table
}

func (s *clickhouseStore) Init(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	stmts := []string{
		`CREATE DATABASE IF NOT EXISTS ` + s.database,
		`CREATE TABLE IF NOT EXISTS ` + s.qualified() + ` (
			event_id String,
			customer_id String,
			user_id String,
			event LowCardinality(String),
			ip String,
			device String,
			metadata String,
			user_agent String,
			request_ip String,
			received_at DateTime64(9, 'UTC'),
			event_time DateTime64(9, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (event, event_time, customer_id, user_id, ip)`,
	}
	for _, stmt := range stmts {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *clickhouseStore) Close() error {
	return s.conn.Close()
}

func (s *clickhouseStore) Insert(ctx context.Context, ev model.LogEvent) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.qualified())
	if err != nil {
		return fmt.Errorf("clickhouse prepare: %w", err)
	}
	if err := batch.Append(
		ev.EventID,
		ev.CustomerID,
		ev.UserID,
		ev.Event,
		ev.IP,
		ev.Device,
		encodeMetadata(ev.Metadata),
		ev.UserAgent,
		ev.RequestIP,
		ev.ReceivedAt.UTC(),
		ev.EventTime.UTC(),
	); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("clickhouse append: %w", err)
	}
	return batch.Send()
}

func (s *clickhouseStore) FailedLogins(ctx context.Context, q Query) iter.Seq2[model.Candidate, error] {
	return func(yield func(model.Candidate, error) bool) {
		query := `SELECT customer_id, user_id, ip, count() AS failed_count, max(event_time) AS last_event_time
			FROM ` + s.qualified() + `
			WHERE event = @event AND event_time >= @start AND event_time <= @end
			GROUP BY customer_id, user_id, ip
			HAVING failed_count >= @threshold
			ORDER BY failed_count DESC, customer_id, user_id, ip`
		rows, err := s.conn.Query(ctx, query,
			clickhouse.Named("event", q.EventType),
			clickhouse.DateNamed("start", q.Start.UTC(), clickhouse.NanoSeconds),
			clickhouse.DateNamed("end", q.End.UTC(), clickhouse.NanoSeconds),
			clickhouse.Named("threshold", uint64(max(q.Threshold, 0))),
		)
		if err != nil {
			yieldErr(yield, fmt.Errorf("clickhouse query: %w", err))
			return
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var c model.Candidate
			var count uint64
			if err := rows.Scan(&c.PrincipalKey.CustomerID, &c.PrincipalKey.UserID, &c.PrincipalKey.IP, &count, &c.LastEventTime); err != nil {
				yieldErr(yield, fmt.Errorf("clickhouse scan: %w", err))
				return
			}
			c.FailedCount = int(count)
			c.LastEventTime = c.LastEventTime.UTC()
			if !yield(c, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yieldErr(yield, err)
		}
	}
}
