package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// Migration is one schema change. Files are named
// <YYYYMMDD>_<HHMMSS>_<name>.up.sql with an optional matching .down.sql.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migrate applies the pending migrations in fsys, oldest first, one
// transaction each. The first failure stops the run; earlier migrations
// stay committed.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}

	for _, m := range pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration. It is a no-op when
// nothing has been applied.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	applied, err := db.appliedMigrations(ctx)
	if err != nil || len(applied) == 0 {
		return err
	}
	version := applied[len(applied)-1].Version

	all, err := loadMigrations(fsys)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == version })
	switch {
	case i < 0:
		return fmt.Errorf("migration %s: file not found", version)
	case all[i].DownSQL == "":
		return fmt.Errorf("migration %s: no down SQL", version)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, all[i].DownSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", version)
		return err
	})
	if err != nil {
		return fmt.Errorf("reverting migration %s: %w", version, err)
	}
	return nil
}

// MigrationStatus splits the migrations in fsys into applied records and
// pending migrations.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) ([]MigrationRecord, []Migration, error) {
	if _, err := db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return nil, nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := loadMigrations(fsys)
	if err != nil {
		return nil, nil, err
	}

	pending := slices.DeleteFunc(all, func(m Migration) bool {
		return slices.ContainsFunc(applied, func(r MigrationRecord) bool { return r.Version == m.Version })
	})
	return applied, pending, nil
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var (
			rec MigrationRecord
			at  string
		)
		if err := rows.Scan(&rec.Version, &at); err != nil {
			return nil, fmt.Errorf("listing applied migrations: %w", err)
		}
		// applied_at is always written as RFC 3339 by Migrate.
		rec.AppliedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// loadMigrations reads the migration files at the root of fsys, ordered by
// version. Other files are ignored; a nil fsys holds no migrations.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		version, isUp, ok := parseMigrationFilename(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if isUp {
			m.Name, m.UpSQL = migrationName(e.Name()), string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		// A lone .down.sql is not a migration.
		if m.UpSQL != "" {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFilename extracts the version and direction from a file
// name, reporting ok=false for anything that is not a migration.
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	stem, isUp, ok := splitDirection(name)
	if !ok {
		return "", false, false
	}
	date, rest, found := strings.Cut(stem, "_")
	if !found || date == "" {
		return "", false, false
	}
	clock, _, _ := strings.Cut(rest, "_")
	return date + "_" + clock, isUp, true
}

// migrationName turns "20261001_090000_command_log.up.sql" into "command_log".
func migrationName(filename string) string {
	stem, _, _ := splitDirection(filename)
	if stem == "" {
		stem = strings.TrimSuffix(filename, ".sql")
	}
	if parts := strings.SplitN(stem, "_", 3); len(parts) == 3 {
		return parts[2]
	}
	return stem
}

func splitDirection(name string) (stem string, isUp bool, ok bool) {
	if stem, ok = strings.CutSuffix(name, ".up.sql"); ok {
		return stem, true, true
	}
	if stem, ok = strings.CutSuffix(name, ".down.sql"); ok {
		return stem, false, true
	}
	return "", false, false
}
