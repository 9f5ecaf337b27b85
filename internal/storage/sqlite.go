package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"carelink/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the minimal persistence API used by the dispatch layer.
type Store interface {
	AppendDelivery(ctx context.Context, e DeliveryEntry) error
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryEntry, error)
	Close() error
}

// Open initializes the delivery log.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, envelope_id, kind, recipient, mode, status, provider_id, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.EnvelopeID, e.Kind, e.Recipient, e.Mode,
		e.Status, nullStr(e.ProviderID), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, envelope_id, kind, recipient, mode, status,
		        COALESCE(provider_id, ''), COALESCE(err, ''), took_ms
		 FROM deliveries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryEntry
	for rows.Next() {
		var e DeliveryEntry
		var at string
		if err := rows.Scan(&at, &e.EnvelopeID, &e.Kind, &e.Recipient, &e.Mode,
			&e.Status, &e.ProviderID, &e.Error, &e.TookMS); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
