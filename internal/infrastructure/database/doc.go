// Package database provides SQLite connectivity for the Gray Logic agent.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations from an fs.FS (normally migrations.FS)
//   - Connection pooling and lifecycle management
//
// The agent stores attribute value history and connection status
// transitions here; both are optional and enabled by database.enabled.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:       cfg.Database.Path,
//	    WALMode:    cfg.Database.WALMode,
//	    Migrations: migrations.FS,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or have
// DEFAULT values, and each .up.sql should have a matching .down.sql.
package database
