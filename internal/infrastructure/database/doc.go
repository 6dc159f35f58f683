// Package database provides SQLite connectivity for the action bridge.
//
// The database is optional. When enabled it holds the command log: one row
// per device job the dispatcher finished.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying embedded schema migrations in version order
//   - Health checks used by the HTTP API
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
