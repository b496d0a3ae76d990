package storage

import (
	"context"
	"database/sql"
	"iter"
	"time"

	"bruteguard/internal/model"
)

// sqlStore is shared by the database/sql drivers. Dialect differences are
// captured by the statements and the time codec.
type sqlStore struct {
	db         *sql.DB
	schema     []string
	insertSQL  string
	failedSQL  string
	encodeTime func(t time.Time) any
	scan       func(rows *sql.Rows) (model.Candidate, error)
}

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Insert(ctx context.Context, ev model.LogEvent) error {
	_, err := s.db.ExecContext(ctx, s.insertSQL,
		ev.EventID,
		ev.CustomerID,
		ev.UserID,
		ev.Event,
		ev.IP,
		ev.Device,
		encodeMetadata(ev.Metadata),
		ev.UserAgent,
		ev.RequestIP,
		s.encodeTime(ev.ReceivedAt.UTC()),
		s.encodeTime(ev.EventTime.UTC()),
	)
	return err
}

func (s *sqlStore) FailedLogins(ctx context.Context, q Query) iter.Seq2[model.Candidate, error] {
	return func(yield func(model.Candidate, error) bool) {
		rows, err := s.db.QueryContext(ctx, s.failedSQL,
			q.EventType,
			s.encodeTime(q.Start.UTC()),
			s.encodeTime(q.End.UTC()),
			q.Threshold,
		)
		if err != nil {
			yieldErr(yield, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			c, err := s.scan(rows)
			if err != nil {
				yieldErr(yield, err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yieldErr(yield, err)
		}
	}
}
