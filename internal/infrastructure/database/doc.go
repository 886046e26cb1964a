// Package database provides SQLite connectivity for the gateway's audit store.
//
// This package manages:
//   - Connections with WAL mode and a busy timeout
//   - Schema migrations loaded from any fs.FS (normally the embedded
//     migrations package)
//   - Health checks
//
// All queries use parameterised statements. The database file is chmod 0600
// after it is opened.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
package database
