package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/your-org/lookout/internal/models"
)

// sqliteMigrations[i] upgrades the schema from version i to i+1.
var sqliteMigrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS gallery_entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT    NOT NULL,
			date_added INTEGER NOT NULL,
			record     TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gallery_entries_name ON gallery_entries(name)`,
		`CREATE INDEX IF NOT EXISTS idx_gallery_entries_date_added ON gallery_entries(date_added)`,
		`CREATE TABLE IF NOT EXISTS detection_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			person_name TEXT    NOT NULL,
			timestamp   INTEGER NOT NULL,
			record      TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_events_person_name ON detection_events(person_name)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_events_timestamp ON detection_events(timestamp)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
}

type SQLiteEngine struct {
	db *sql.DB
}

// SQLiteOpener returns an Opener for a database file at path.
func SQLiteOpener(path string) Opener {
	return func(ctx context.Context) (Engine, error) {
		return OpenSQLite(ctx, path)
	}
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteEngine, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	e := &SQLiteEngine{db: db}
	if err := e.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *SQLiteEngine) migrate(ctx context.Context) error {
	version, err := e.Version(ctx)
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("sqlite schema version %d is newer than supported %d", version, SchemaVersion)
	}

	for v := version; v < SchemaVersion; v++ {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		for _, stmt := range sqliteMigrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migrate to version %d: %w", v+1, err)
			}
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}
	return nil
}

func (e *SQLiteEngine) Version(ctx context.Context) (int, error) {
	var v int
	if err := e.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (e *SQLiteEngine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *SQLiteEngine) Close() error {
	return e.db.Close()
}

// --- Gallery entries ---

func (e *SQLiteEngine) InsertGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error) {
	data, err := encodeEntry(entry)
	if err != nil {
		return 0, err
	}
	res, err := e.db.ExecContext(ctx,
		`INSERT INTO gallery_entries (name, date_added, record) VALUES (?, ?, ?)`,
		entry.Name, entry.DateAdded.UnixNano(), string(data))
	if err != nil {
		return 0, fmt.Errorf("insert gallery entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert gallery entry: %w", err)
	}
	return id, nil
}

func (e *SQLiteEngine) PutGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error) {
	if entry.ID == 0 {
		return e.InsertGalleryEntry(ctx, entry)
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return 0, err
	}
	_, err = e.db.ExecContext(ctx,
		`INSERT INTO gallery_entries (id, name, date_added, record) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, date_added = excluded.date_added, record = excluded.record`,
		entry.ID, entry.Name, entry.DateAdded.UnixNano(), string(data))
	if err != nil {
		return 0, fmt.Errorf("put gallery entry: %w", err)
	}
	return entry.ID, nil
}

func (e *SQLiteEngine) GalleryEntries(ctx context.Context) ([]models.GalleryEntry, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT id, record FROM gallery_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list gallery entries: %w", err)
	}
	defer rows.Close()

	entries := []models.GalleryEntry{}
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		entry, err := decodeEntry(id, []byte(data))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (e *SQLiteEngine) GalleryEntry(ctx context.Context, id int64) (*models.GalleryEntry, error) {
	var data string
	err := e.db.QueryRowContext(ctx, `SELECT record FROM gallery_entries WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get gallery entry: %w", err)
	}
	entry, err := decodeEntry(id, []byte(data))
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (e *SQLiteEngine) DeleteGalleryEntry(ctx context.Context, id int64) error {
	if _, err := e.db.ExecContext(ctx, `DELETE FROM gallery_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete gallery entry: %w", err)
	}
	return nil
}

// --- Detection events ---

func (e *SQLiteEngine) InsertDetectionEvent(ctx context.Context, ev *models.DetectionEvent) (int64, error) {
	data, err := encodeEvent(ev)
	if err != nil {
		return 0, err
	}
	res, err := e.db.ExecContext(ctx,
		`INSERT INTO detection_events (person_name, timestamp, record) VALUES (?, ?, ?)`,
		ev.PersonName, ev.Timestamp.UnixNano(), string(data))
	if err != nil {
		return 0, fmt.Errorf("insert detection event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert detection event: %w", err)
	}
	return id, nil
}

func (e *SQLiteEngine) DetectionEvents(ctx context.Context) ([]models.DetectionEvent, error) {
	return e.queryEvents(ctx, `SELECT id, record FROM detection_events ORDER BY id`)
}

func (e *SQLiteEngine) DetectionEventsByPerson(ctx context.Context, name string) ([]models.DetectionEvent, error) {
	return e.queryEvents(ctx,
		`SELECT id, record FROM detection_events WHERE person_name = ? ORDER BY id`, name)
}

func (e *SQLiteEngine) queryEvents(ctx context.Context, query string, args ...any) ([]models.DetectionEvent, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query detection events: %w", err)
	}
	defer rows.Close()

	events := []models.DetectionEvent{}
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan detection event: %w", err)
		}
		ev, err := decodeEvent(id, []byte(data))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (e *SQLiteEngine) ClearDetectionEvents(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, `DELETE FROM detection_events`); err != nil {
		return fmt.Errorf("clear detection events: %w", err)
	}
	return nil
}

// --- Settings ---

func (e *SQLiteEngine) Setting(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := e.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return json.RawMessage(value), nil
}

func (e *SQLiteEngine) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}
