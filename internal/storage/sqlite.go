package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bruteguard/internal/model"
)

const defaultSQLiteDSN = "file:bruteguard.db?_pragma=busy_timeout(5000)"

// NewSQLite stores timestamps as unix nanoseconds so range predicates compare
// integers instead of text.
func NewSQLite(dsn, table string, dedupe bool) (EventStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = defaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			event TEXT NOT NULL,
			ip TEXT NOT NULL,
			device TEXT NOT NULL,
			metadata TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			request_ip TEXT NOT NULL,
			received_at INTEGER NOT NULL,
			event_time INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + table + `_event_time ON ` + table + `(event, event_time)`,
	}
	verb := "INSERT"
	if dedupe {
		schema = append(schema, `CREATE UNIQUE INDEX IF NOT EXISTS idx_`+table+`_event_id ON `+table+`(event_id)`)
		verb = "INSERT OR IGNORE"
	}

	return &sqlStore{
		db:     db,
		schema: schema,
		insertSQL: verb + ` INTO ` + table + ` (event_id, customer_id, user_id, event, ip, device, metadata, user_agent, request_ip, received_at, event_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		failedSQL: `SELECT customer_id, user_id, ip, COUNT(*) AS failed_count, MAX(event_time) AS last_event_time
			FROM ` + table + `
			WHERE event = ? AND event_time >= ? AND event_time <= ?
			GROUP BY customer_id, user_id, ip
			HAVING COUNT(*) >= ?
			ORDER BY failed_count DESC, customer_id, user_id, ip`,
		encodeTime: func(t time.Time) any { return t.UnixNano() },
		scan: func(rows *sql.Rows) (model.Candidate, error) {
			var c model.Candidate
			var last int64
			if err := rows.Scan(&c.PrincipalKey.CustomerID, &c.PrincipalKey.UserID, &c.PrincipalKey.IP, &c.FailedCount, &last); err != nil {
				return model.Candidate{}, err
			}
			c.LastEventTime = time.Unix(0, last).UTC()
			return c, nil
		},
	}, nil
}
