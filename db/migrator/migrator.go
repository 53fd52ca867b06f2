// Package migrator applies the SQL schema migrations in lexical order and
// records each one with its checksum so edited migrations are detected.
package migrator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS migrations (
		filename   TEXT PRIMARY KEY,
		checksum   TEXT,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

type Migrator struct {
	pool   *pgxpool.Pool
	files  fs.FS
	logger *slog.Logger
}

// New creates a migrator reading *.sql files from files, usually migrations.FS.
func New(pool *pgxpool.Pool, files fs.FS, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		pool:   pool,
		files:  files,
		logger: logger.With("component", "migrator"),
	}
}

// NewFromDir creates a migrator reading migrations from a directory on disk.
func NewFromDir(pool *pgxpool.Pool, dir string, logger *slog.Logger) *Migrator {
	return New(pool, os.DirFS(dir), logger)
}

// ApplyAll applies every pending migration, each in its own transaction, and
// verifies the checksums of those already applied.
func (m *Migrator) ApplyAll(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	files, err := Pending(m.files)
	if err != nil {
		return fmt.Errorf("failed to get migration files: %w", err)
	}

	for _, filename := range files {
		content, err := fs.ReadFile(m.files, filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}
		checksum := Checksum(content)

		if stored, ok := applied[filename]; ok {
			if stored != "" && stored != checksum {
				return fmt.Errorf("checksum verification failed for %s: migration has been modified (expected checksum %s, got %s)",
					filename, stored, checksum)
			}
			continue
		}

		if err := m.applyMigration(ctx, filename, content, checksum); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", filename, err)
		}
	}

	return nil
}

func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := m.pool.Query(ctx, "SELECT filename, COALESCE(checksum, '') FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var filename, checksum string
		if err := rows.Scan(&filename, &checksum); err != nil {
			return nil, err
		}
		applied[filename] = checksum
	}

	return applied, rows.Err()
}

// Pending lists the migration files in files in the order they are applied.
func Pending(files fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if strings.HasPrefix(entry.Name(), "README") {
			continue
		}
		out = append(out, entry.Name())
	}

	sort.Strings(out)
	return out, nil
}

// Checksum returns the hex sha256 of a migration file.
func Checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

func (m *Migrator) applyMigration(ctx context.Context, filename string, content []byte, checksum string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			m.logger.Warn("failed to rollback migration", "file", filename, "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO migrations (filename, checksum) VALUES ($1, $2)",
		filename, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	m.logger.Info("applied migration", "file", filename, "checksum", checksum[:8])
	return nil
}

// ListApplied returns applied migrations in the order they were applied.
func (m *Migrator) ListApplied(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx,
		"SELECT filename FROM migrations ORDER BY applied_at ASC, filename ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var migrations []string
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, err
		}
		migrations = append(migrations, filename)
	}

	return migrations, rows.Err()
}
