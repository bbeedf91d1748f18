// Package database opens the knxsync SQLite file and keeps its schema
// current.
//
// The file holds the entity store edited through the API, the group
// addresses recorded from bus traffic and the audit log. It is created with
// mode 0600, and WAL mode is recommended so API reads do not block the
// recorder.
//
// Schema files are registered by importing the migrations package:
//
//	import _ "github.com/nerrad567/knxsync/migrations"
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Each version has an .up.sql and normally a .down.sql file. New columns
// must be nullable or carry a default.
package database
