// Package pg archives audit entries in Postgres. The archive is append-only;
// entries are keyed by ULID so insertion order and lexical order agree.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"equicert.org/internal/audit"
	"equicert.org/internal/ids"
)

type AuditStore struct {
	db *sql.DB
}

var _ audit.Sink = (*AuditStore)(nil)

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*AuditStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &AuditStore{db: db}, nil
}

// New wraps an existing database handle (used by tests with sqlmock).
func New(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Close() error { return s.db.Close() }

func (s *AuditStore) DB() *sql.DB { return s.db }

// Append archives one audit entry. A zero id or timestamp is filled in here
// so callers can hand over bare entries.
func (s *AuditStore) Append(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	fields, err := json.Marshal(entry.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_entries(id, occurred_at, actor, event, entity_kind, entity_id, fields)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.OccurredAt, entry.Actor, entry.Event, entry.EntityKind, entry.EntityID, fields)
	return err
}

// Recent returns the newest entries, most recent first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, occurred_at, actor, event, entity_kind, entity_id, fields
		from audit_entries
		order by id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var fields []byte
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Actor, &e.Event, &e.EntityKind, &e.EntityID, &fields); err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, err
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
