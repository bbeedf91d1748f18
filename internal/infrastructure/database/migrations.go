package database

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// schema holds the registered migration files. Nil means no migrations.
var schema fs.FS

// RegisterSchema sets the filesystem Migrate reads from. Files sit at its
// root and are named <YYYYMMDD>_<HHMMSS>_<name>.up.sql, with an optional
// matching .down.sql.
func RegisterSchema(fsys fs.FS) {
	schema = fsys
}

// Migration is one schema version.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies every pending migration, oldest first, each in its own
// transaction. On failure the earlier versions stay committed and a rerun
// resumes at the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	pending, err := db.Pending(ctx)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := db.runMigration(ctx, m.Up,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.Version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration. It is a no-op on an
// empty schema.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, err := db.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	all, err := readSchema()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == latest })
	switch {
	case i < 0:
		return fmt.Errorf("migration %s is applied but has no file", latest)
	case all[i].Down == "":
		return fmt.Errorf("migration %s has no down file", latest)
	}

	if err := db.runMigration(ctx, all[i].Down,
		`DELETE FROM schema_migrations WHERE version = ?`, latest,
	); err != nil {
		return fmt.Errorf("reverting migration %s: %w", latest, err)
	}
	return nil
}

// Applied lists recorded migrations, oldest first.
func (db *DB) Applied(ctx context.Context) ([]AppliedMigration, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := []AppliedMigration{}
	for rows.Next() {
		var (
			a  AppliedMigration
			at string
		)
		if err := rows.Scan(&a.Version, &at); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schema_migrations: %w", err)
	}
	return applied, nil
}

// Pending lists registered migrations not yet applied, oldest first.
func (db *DB) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := db.Applied(ctx)
	if err != nil {
		return nil, err
	}
	all, err := readSchema()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(m Migration) bool {
		return slices.ContainsFunc(applied, func(a AppliedMigration) bool {
			return a.Version == m.Version
		})
	}), nil
}

// SchemaVersion returns the newest applied version, or "" before the first
// migration.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	applied, err := db.Applied(ctx)
	if err != nil || len(applied) == 0 {
		return "", err
	}
	return applied[len(applied)-1].Version, nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

// runMigration executes script and the bookkeeping statement atomically.
func (db *DB) runMigration(ctx context.Context, script, record string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("updating schema_migrations: %w", err)
	}
	return tx.Commit()
}

// readSchema loads the registered migrations sorted by version. A down file
// without an up file is ignored.
func readSchema() ([]Migration, error) {
	if schema == nil {
		return nil, nil
	}
	names, err := fs.Glob(schema, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	var downs []string
	for _, name := range names {
		version, up, ok := splitMigrationFile(name)
		if !ok {
			continue
		}
		if !up {
			downs = append(downs, name)
			continue
		}
		body, err := fs.ReadFile(schema, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		byVersion[version] = &Migration{
			Version: version,
			Name:    migrationName(name),
			Up:      string(body),
		}
	}

	for _, name := range downs {
		version, _, _ := splitMigrationFile(name)
		m, ok := byVersion[version]
		if !ok {
			continue
		}
		body, err := fs.ReadFile(schema, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		m.Down = string(body)
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

var errNotMigration = errors.New("not a migration file")

// splitMigrationFile returns the version of a file named
// <date>_<time>_<name>.(up|down).sql and whether it is the up script.
func splitMigrationFile(name string) (version string, up, ok bool) {
	stem, dir, err := migrationStem(name)
	if err != nil {
		return "", false, false
	}
	date, rest, found := strings.Cut(stem, "_")
	if !found || date == "" {
		return "", false, false
	}
	clock, _, _ := strings.Cut(rest, "_")
	if clock == "" {
		return "", false, false
	}
	return date + "_" + clock, dir == "up", true
}

// migrationName is the descriptive part of a migration file name, e.g.
// "audit_logs" for 20260301_093000_audit_logs.up.sql.
func migrationName(name string) string {
	stem, _, err := migrationStem(name)
	if err != nil {
		stem = name
	}
	parts := strings.SplitN(stem, "_", 3)
	if len(parts) < 3 {
		return stem
	}
	return parts[2]
}

func migrationStem(name string) (stem, direction string, err error) {
	base, ok := strings.CutSuffix(name, ".sql")
	if !ok {
		return "", "", errNotMigration
	}
	if stem, ok = strings.CutSuffix(base, ".up"); ok {
		return stem, "up", nil
	}
	if stem, ok = strings.CutSuffix(base, ".down"); ok {
		return stem, "down", nil
	}
	return "", "", errNotMigration
}
