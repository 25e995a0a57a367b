package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrator applies the schema files under migrationsDir against Postgres.
// File naming follows the golang-migrate convention ({version}_{name}.up.sql
// with a matching .down.sql), and bookkeeping lives in
// public.schema_migrations so the ledger schema in the lend namespace can be
// dropped and rebuilt without losing the migration history.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, migrationsDir string) *Migrator {
	return &Migrator{db: db, dir: migrationsDir}
}

// Up runs every migration that has not been recorded yet, oldest first.
// Each file executes in its own transaction together with its bookkeeping
// row, so a failed statement leaves the recorded history matching the
// schema that actually exists.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureHistoryTable(ctx); err != nil {
		return fmt.Errorf("migration history table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("read migration history: %w", err)
	}

	files, err := m.filesWithSuffix(".up.sql")
	if err != nil {
		return fmt.Errorf("scan migrations dir: %w", err)
	}

	for _, name := range files {
		if applied[versionOf(name)] {
			continue
		}
		if err := m.applyUp(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) applyUp(ctx context.Context, name string) error {
	log.Printf("INFO: migrate up %s", name)

	body, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		tx.Rollback()
		return fmt.Errorf("apply %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
		versionOf(name), name,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}

	log.Printf("INFO: migrate up %s done", name)
	return nil
}

// Down reverts the most recent migration using its .down.sql counterpart.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureHistoryTable(ctx); err != nil {
		return err
	}

	var version, upName string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &upName)
	if err == sql.ErrNoRows {
		log.Println("INFO: migration history empty, nothing to revert")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read migration history: %w", err)
	}

	downName := strings.Replace(upName, ".up.sql", ".down.sql", 1)
	body, err := os.ReadFile(filepath.Join(m.dir, downName))
	if err != nil {
		return fmt.Errorf("read %s: %w", downName, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		tx.Rollback()
		return fmt.Errorf("apply %s: %w", downName, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM public.schema_migrations WHERE version = $1`, version,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("unrecord %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("INFO: migrate down %s done", downName)
	return nil
}

func (m *Migrator) ensureHistoryTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// filesWithSuffix returns the matching migration files sorted by name, which
// for zero-padded version prefixes is also version order.
func (m *Migrator) filesWithSuffix(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// versionOf extracts the version prefix: "0001_init.up.sql" yields "0001".
func versionOf(filename string) string {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) > 0 {
		return parts[0]
	}
	return filename
}
