package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/lookout/internal/config"
	"github.com/your-org/lookout/internal/models"
)

// postgresMigrations[i] upgrades the schema from version i to i+1.
var postgresMigrations = [][]string{
	{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS gallery_entries (
			id         BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			name       TEXT        NOT NULL,
			date_added TIMESTAMPTZ NOT NULL,
			record     JSONB       NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gallery_entries_name ON gallery_entries(name)`,
		`CREATE INDEX IF NOT EXISTS idx_gallery_entries_date_added ON gallery_entries(date_added)`,
		`CREATE TABLE IF NOT EXISTS gallery_descriptors (
			entry_id  BIGINT NOT NULL REFERENCES gallery_entries(id) ON DELETE CASCADE,
			position  INT    NOT NULL,
			embedding vector NOT NULL,
			PRIMARY KEY (entry_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS detection_events (
			id          BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			person_name TEXT        NOT NULL,
			timestamp   TIMESTAMPTZ NOT NULL,
			record      JSONB       NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_events_person_name ON detection_events(person_name)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_events_timestamp ON detection_events(timestamp)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value JSONB NOT NULL
		)`,
	},
}

// PostgresEngine keeps records as JSONB documents. Gallery descriptors are
// split out into a pgvector column.
type PostgresEngine struct {
	pool *pgxpool.Pool
}

func PostgresOpener(cfg config.PostgresConfig) Opener {
	return func(ctx context.Context) (Engine, error) {
		return NewPostgresEngine(ctx, cfg)
	}
}

func NewPostgresEngine(ctx context.Context, cfg config.PostgresConfig) (*PostgresEngine, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	e := &PostgresEngine{pool: pool}
	if err := e.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return e, nil
}

func (e *PostgresEngine) migrate(ctx context.Context) error {
	if _, err := e.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_meta (id INT PRIMARY KEY, version INT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_meta: %w", err)
	}

	for {
		done, err := e.migrateStep(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// migrateStep applies one pending migration under an advisory lock so
// concurrent processes upgrade exactly once.
func (e *PostgresEngine) migrateStep(ctx context.Context) (bool, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(7231)`); err != nil {
		return false, fmt.Errorf("lock schema: %w", err)
	}

	var version int
	err = tx.QueryRow(ctx, `SELECT version FROM schema_meta WHERE id = 1`).Scan(&version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("read schema version: %w", err)
	}
	if version > SchemaVersion {
		return false, fmt.Errorf("postgres schema version %d is newer than supported %d", version, SchemaVersion)
	}
	if version == SchemaVersion {
		return true, nil
	}

	for _, stmt := range postgresMigrations[version] {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return false, fmt.Errorf("migrate to version %d: %w", version+1, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_meta (id, version) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`, version+1); err != nil {
		return false, fmt.Errorf("set schema version %d: %w", version+1, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %d: %w", version+1, err)
	}
	return false, nil
}

func (e *PostgresEngine) Version(ctx context.Context) (int, error) {
	var version int
	err := e.pool.QueryRow(ctx, `SELECT version FROM schema_meta WHERE id = 1`).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (e *PostgresEngine) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

func (e *PostgresEngine) Close() error {
	e.pool.Close()
	return nil
}

// --- Gallery entries ---

func splitDescriptors(entry *models.GalleryEntry) (models.GalleryEntry, [][]float32) {
	doc := *entry
	descriptors := doc.Descriptors
	doc.Descriptors = nil
	return doc, descriptors
}

func (e *PostgresEngine) InsertGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error) {
	doc, descriptors := splitDescriptors(entry)
	data, err := encodeEntry(&doc)
	if err != nil {
		return 0, err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert gallery entry: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO gallery_entries (name, date_added, record) VALUES ($1, $2, $3) RETURNING id`,
		entry.Name, entry.DateAdded, data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert gallery entry: %w", err)
	}
	if err := insertDescriptors(ctx, tx, id, descriptors); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit gallery entry: %w", err)
	}
	return id, nil
}

func (e *PostgresEngine) PutGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error) {
	if entry.ID == 0 {
		return e.InsertGalleryEntry(ctx, entry)
	}
	doc, descriptors := splitDescriptors(entry)
	data, err := encodeEntry(&doc)
	if err != nil {
		return 0, err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin put gallery entry: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO gallery_entries (id, name, date_added, record) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, date_added = EXCLUDED.date_added, record = EXCLUDED.record`,
		entry.ID, entry.Name, entry.DateAdded, data)
	if err != nil {
		return 0, fmt.Errorf("put gallery entry: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM gallery_descriptors WHERE entry_id = $1`, entry.ID); err != nil {
		return 0, fmt.Errorf("replace descriptors: %w", err)
	}
	if err := insertDescriptors(ctx, tx, entry.ID, descriptors); err != nil {
		return 0, err
	}
	// Keep the identity ahead of explicitly written ids.
	if _, err := tx.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('gallery_entries', 'id'),
		               GREATEST((SELECT max(id) FROM gallery_entries), 1))`); err != nil {
		return 0, fmt.Errorf("advance gallery id sequence: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit gallery entry: %w", err)
	}
	return entry.ID, nil
}

func insertDescriptors(ctx context.Context, tx pgx.Tx, entryID int64, descriptors [][]float32) error {
	for i, d := range descriptors {
		if _, err := tx.Exec(ctx,
			`INSERT INTO gallery_descriptors (entry_id, position, embedding) VALUES ($1, $2, $3)`,
			entryID, i, pgvector.NewVector(d)); err != nil {
			return fmt.Errorf("insert descriptor %d: %w", i, err)
		}
	}
	return nil
}

func (e *PostgresEngine) GalleryEntries(ctx context.Context) ([]models.GalleryEntry, error) {
	rows, err := e.pool.Query(ctx, `SELECT id, record FROM gallery_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list gallery entries: %w", err)
	}
	defer rows.Close()

	entries := []models.GalleryEntry{}
	index := make(map[int64]int)
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		entry, err := decodeEntry(id, data)
		if err != nil {
			return nil, err
		}
		entry.Descriptors = [][]float32{}
		index[id] = len(entries)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list gallery entries: %w", err)
	}

	drows, err := e.pool.Query(ctx,
		`SELECT entry_id, embedding FROM gallery_descriptors ORDER BY entry_id, position`)
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	defer drows.Close()

	for drows.Next() {
		var id int64
		var vec pgvector.Vector
		if err := drows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		if i, ok := index[id]; ok {
			entries[i].Descriptors = append(entries[i].Descriptors, vec.Slice())
		}
	}
	return entries, drows.Err()
}

func (e *PostgresEngine) GalleryEntry(ctx context.Context, id int64) (*models.GalleryEntry, error) {
	var data []byte
	err := e.pool.QueryRow(ctx, `SELECT record FROM gallery_entries WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get gallery entry: %w", err)
	}
	entry, err := decodeEntry(id, data)
	if err != nil {
		return nil, err
	}

	rows, err := e.pool.Query(ctx,
		`SELECT embedding FROM gallery_descriptors WHERE entry_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get descriptors: %w", err)
	}
	defer rows.Close()

	entry.Descriptors = [][]float32{}
	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		entry.Descriptors = append(entry.Descriptors, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get descriptors: %w", err)
	}
	return &entry, nil
}

func (e *PostgresEngine) DeleteGalleryEntry(ctx context.Context, id int64) error {
	if _, err := e.pool.Exec(ctx, `DELETE FROM gallery_entries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete gallery entry: %w", err)
	}
	return nil
}

// --- Detection events ---

func (e *PostgresEngine) InsertDetectionEvent(ctx context.Context, ev *models.DetectionEvent) (int64, error) {
	data, err := encodeEvent(ev)
	if err != nil {
		return 0, err
	}
	var id int64
	err = e.pool.QueryRow(ctx,
		`INSERT INTO detection_events (person_name, timestamp, record) VALUES ($1, $2, $3) RETURNING id`,
		ev.PersonName, ev.Timestamp, data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert detection event: %w", err)
	}
	return id, nil
}

func (e *PostgresEngine) DetectionEvents(ctx context.Context) ([]models.DetectionEvent, error) {
	return e.queryEvents(ctx, `SELECT id, record FROM detection_events ORDER BY id`)
}

func (e *PostgresEngine) DetectionEventsByPerson(ctx context.Context, name string) ([]models.DetectionEvent, error) {
	return e.queryEvents(ctx,
		`SELECT id, record FROM detection_events WHERE person_name = $1 ORDER BY id`, name)
}

func (e *PostgresEngine) queryEvents(ctx context.Context, query string, args ...any) ([]models.DetectionEvent, error) {
	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query detection events: %w", err)
	}
	defer rows.Close()

	events := []models.DetectionEvent{}
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan detection event: %w", err)
		}
		ev, err := decodeEvent(id, data)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (e *PostgresEngine) ClearDetectionEvents(ctx context.Context) error {
	if _, err := e.pool.Exec(ctx, `DELETE FROM detection_events`); err != nil {
		return fmt.Errorf("clear detection events: %w", err)
	}
	return nil
}

// --- Settings ---

func (e *PostgresEngine) Setting(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	err := e.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return json.RawMessage(value), nil
}

func (e *PostgresEngine) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := e.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, []byte(value))
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}
