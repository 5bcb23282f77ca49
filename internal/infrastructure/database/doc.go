// Package database provides SQLite connectivity for the bridge's command
// recorder.
//
// It opens the database with WAL mode and a busy timeout, limits the pool
// to a single connection and applies forward-only migrations embedded by
// the migrations package.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// The schema never stores sensor readings. It holds an inventory of the
// commands and addresses observed on the bus.
package database
