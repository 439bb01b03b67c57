// Package database provides SQLite connectivity for TankWatch Core.
//
// It owns connection setup (WAL, busy timeout, foreign keys, single
// writer), health checks, a transaction helper and schema migrations read
// from an fs.FS (the migrations package embeds them into the binary).
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry defaults.
package database
