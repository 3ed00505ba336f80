package database

import (
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DB is the SQLite backend.
type DB struct {
	*sqlStore
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	db := &DB{sqlStore: &sqlStore{conn: conn, rebind: func(q string) string { return q }}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return db, nil
}

// sqliteDSN enables WAL mode and foreign keys on every pooled connection,
// and stores times in a format that sorts lexically.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false; SQLite serializes writers.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS folders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		parent_id INTEGER REFERENCES folders(id)
	);
	CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		folder_id INTEGER REFERENCES folders(id),
		title TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		icon_url TEXT DEFAULT '',
		last_fetched DATETIME,
		last_error TEXT DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		guid TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT,
		link TEXT,
		published_at DATETIME,
		fetched_at DATETIME NOT NULL,
		state TEXT NOT NULL DEFAULT 'unread',
		pinned INTEGER NOT NULL DEFAULT 0,
		UNIQUE(feed_id, guid)
	);
	CREATE TABLE IF NOT EXISTS item_labels (
		item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		PRIMARY KEY (item_id, label)
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS feed_preferences (
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (feed_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_items_feed_published ON items(feed_id, published_at);
	CREATE INDEX IF NOT EXISTS idx_items_guid ON items(guid);
	CREATE INDEX IF NOT EXISTS idx_feeds_folder_id ON feeds(folder_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}
