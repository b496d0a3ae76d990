package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bruteguard/internal/model"
)

// NewPostgres places the table in schema dataset when one is given.
func NewPostgres(dsn, dataset, table string, dedupe bool) (EventStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/bruteguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	qualified := table
	var schema []string
	if dataset != "" {
		qualified = dataset + "." + table
		schema = append(schema, `CREATE SCHEMA IF NOT EXISTS `+dataset)
	}
	schema = append(schema,
		`CREATE TABLE IF NOT EXISTS `+qualified+` (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			event TEXT NOT NULL,
			ip TEXT NOT NULL,
			device TEXT NOT NULL,
			metadata JSONB NOT NULL,
			user_agent TEXT NOT NULL,
			request_ip TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			event_time TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_`+table+`_event_time ON `+qualified+`(event, event_time)`,
	)
	conflict := ""
	if dedupe {
		schema = append(schema, `CREATE UNIQUE INDEX IF NOT EXISTS idx_`+table+`_event_id ON `+qualified+`(event_id)`)
		conflict = " ON CONFLICT (event_id) DO NOTHING"
	}

	return &sqlStore{
		db:     db,
		schema: schema,
		insertSQL: `INSERT INTO ` + qualified + ` (event_id, customer_id, user_id, event, ip, device, metadata, user_agent, request_ip, received_at, event_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11)` + conflict,
		failedSQL: `SELECT customer_id, user_id, ip, COUNT(*) AS failed_count, MAX(event_time) AS last_event_time
			FROM ` + qualified + `
			WHERE event = $1 AND event_time >= $2 AND event_time <= $3
			GROUP BY customer_id, user_id, ip
			HAVING COUNT(*) >= $4
			ORDER BY failed_count DESC, customer_id, user_id, ip`,
		encodeTime: func(t time.Time) any { return t },
		scan: func(rows *sql.Rows) (model.Candidate, error) {
			var c model.Candidate
			if err := rows.Scan(&c.PrincipalKey.CustomerID, &c.PrincipalKey.UserID, &c.PrincipalKey.IP, &c.FailedCount, &c.LastEventTime); err != nil {
				return model.Candidate{}, err
			}
			c.LastEventTime = c.LastEventTime.UTC()
			return c, nil
		},
	}, nil
}
