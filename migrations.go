package realtime

import "embed"

// MigrationFiles contains all SQL migration files embedded in the binary.
// Users can access these files programmatically to apply migrations using
// their preferred migration tool (goose, golang-migrate, atlas, etc.)
//
// Example with goose:
//
//	import (
//	    "github.com/pressly/goose/v3"
//	    "github.com/coregx/realtime"
//	)
//
//	goose.SetBaseFS(realtime.MigrationFiles)
//	if err := goose.Up(db, "migrations"); err != nil {
//	    log.Fatal(err)
//	}
//
// The postgres directory additionally contains the trigger that emits the
// change notification consumed by the ChangeListener. MySQL and SQLite get
// only the tables (persistence and direct publish work, asynchronous
// listener delivery does not).
//
//go:embed migrations/*.sql migrations/postgres/*.sql
var MigrationFiles embed.FS
