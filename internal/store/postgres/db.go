package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	statementTimeoutDefaultMS = 5000
	statementTimeoutMaxMS     = 300_000

	// DefaultQueryTimeout bounds a single Load/Save round trip.
	DefaultQueryTimeout = 5 * time.Second

	migrationTimeout = time.Minute
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

type DB struct {
	*sql.DB
}

type Config struct {
	URL                string
	StatementTimeoutMS int
	ConnMaxLifetime    time.Duration
}

// New opens a small pool; the notifier issues at most one query at a time.
func New(cfg Config) (*DB, error) {
	timeoutMS, err := resolveStatementTimeoutMS(cfg.StatementTimeoutMS)
	if err != nil {
		return nil, fmt.Errorf("resolve statement timeout: %w", err)
	}

	db, err := sql.Open("postgres", appendStatementTimeout(cfg.URL, timeoutMS))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultQueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{db}, nil
}

// appendStatementTimeout appends statement_timeout to the connection URL
// so it applies to every pooled connection.
func appendStatementTimeout(url string, timeoutMS int) string {
	if timeoutMS <= 0 {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "options=-c%20statement_timeout%3D" + strconv.Itoa(timeoutMS)
}

func resolveStatementTimeoutMS(ms int) (int, error) {
	if ms == 0 {
		return statementTimeoutDefaultMS, nil
	}
	if ms < 0 || ms > statementTimeoutMaxMS {
		return 0, fmt.Errorf("statement timeout %d out of allowed range [0, %d]", ms, statementTimeoutMaxMS)
	}
	return ms, nil
}

// Migrate applies the embedded *.up.sql files in name order, once each.
func (db *DB) Migrate(ctx context.Context) error {
	return db.runMigrations(ctx, migrationFS, "migrations")
}

func (db *DB) runMigrations(ctx context.Context, fsys fs.FS, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := fs.Glob(fsys, dir+"/*.up.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		version := strings.TrimPrefix(f, dir+"/")

		var exists bool
		if err := db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if exists {
			continue
		}

		content, err := fs.ReadFile(fsys, f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)", version,
		); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		slog.Info("migration applied", "version", version)
	}
	return nil
}
