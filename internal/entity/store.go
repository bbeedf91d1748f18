package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store persists entity configurations in the synced_entities table.
//
// Thread Safety: All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by db. The synced_entities migration must
// have been applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// List returns every stored entity ordered by id.
func (s *Store) List(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_id, config FROM synced_entities ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	entities := []Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

// Snapshot returns every stored entity as a configuration set.
func (s *Store) Snapshot(ctx context.Context) (Set, error) {
	entities, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	set := make(Set, len(entities))
	for _, e := range entities {
		set[e.ID] = e
	}
	return set, nil
}

// Get returns one entity or ErrEntityNotFound.
func (s *Store) Get(ctx context.Context, id string) (Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT entity_id, config FROM synced_entities WHERE entity_id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return e, err
}

// Create inserts a new entity. It fails with ErrEntityExists when the id is taken.
func (s *Store) Create(ctx context.Context, e Entity) error {
	config, category, err := encodeEntity(e)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_entities (entity_id, category, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO NOTHING
	`, e.ID, category, config, now, now)
	if err != nil {
		return fmt.Errorf("inserting entity %s: %w", e.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrEntityExists, e.ID)
	}
	return nil
}

// Put creates or replaces an entity and reports whether it was created.
func (s *Store) Put(ctx context.Context, e Entity) (created bool, err error) {
	config, category, err := encodeEntity(e)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM synced_entities WHERE entity_id = ?`, e.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking entity %s: %w", e.ID, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO synced_entities (entity_id, category, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			category = excluded.category,
			config = excluded.config,
			updated_at = excluded.updated_at
	`, e.ID, category, config, now, now); err != nil {
		return false, fmt.Errorf("upserting entity %s: %w", e.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing entity %s: %w", e.ID, err)
	}
	return exists == 0, nil
}

// Delete removes an entity or returns ErrEntityNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM synced_entities WHERE entity_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entity %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting entity %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return nil
}

// Count returns the number of stored entities.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM synced_entities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entities: %w", err)
	}
	return n, nil
}

// Seed stores set when the table is empty and returns how many entities were
// written. A populated store is left alone, so edits made at runtime survive
// restarts.
func (s *Store) Seed(ctx context.Context, set Set) (int, error) {
	if err := set.Validate(); err != nil {
		return 0, err
	}

	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 || len(set) == 0 {
		return 0, nil
	}

	for _, id := range set.IDs() {
		if err := s.Create(ctx, set[id]); err != nil {
			return 0, err
		}
	}
	return len(set), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (Entity, error) {
	var (
		id     string
		config string
	)
	if err := row.Scan(&id, &config); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entity{}, err
		}
		return Entity{}, fmt.Errorf("scanning entity: %w", err)
	}

	var e Entity
	if err := json.Unmarshal([]byte(config), &e); err != nil {
		return Entity{}, fmt.Errorf("decoding entity %s: %w", id, err)
	}
	e.ID = id
	e.Normalize()
	return e, nil
}

func encodeEntity(e Entity) (config string, category Category, err error) {
	if err := e.Validate(); err != nil {
		return "", "", err
	}
	e.Normalize()
	data, err := json.Marshal(e)
	if err != nil {
		return "", "", fmt.Errorf("encoding entity %s: %w", e.ID, err)
	}
	return string(data), e.Category(), nil
}
