package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"
)

type SQLiteClient struct {
	DB *sql.DB
}

// NewSQLiteDB opens (creating if needed) the embedded event database and runs
// the schema migration. The path comes from EVENTS_DB_PATH, defaulting to a
// local file for development.
func NewSQLiteDB() (*SQLiteClient, error) {
	path := os.Getenv("EVENTS_DB_PATH")
	if path == "" {
		log.Println("EVENTS_DB_PATH environment variable not set. Using default for local development.")
		path = "analytics.db"
	}
	return OpenSQLiteDB(path)
}

// OpenSQLiteDB opens the embedded event database at an explicit path.
func OpenSQLiteDB(path string) (*SQLiteClient, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}

	// The modernc driver is in-process; a single writer connection keeps
	// concurrent appends from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error migrating sqlite schema: %w", err)
	}

	return &SQLiteClient{DB: db}, nil
}

func migrate(db *sql.DB) error {
	// timestamp and received_at are TEXT, not DATETIME: the store writes
	// fixed-width UTC strings and relies on them coming back byte-identical,
	// which a DATETIME declaration would break (the driver re-renders those
	// on read).
	query := `
	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		url TEXT,
		title TEXT,
		referrer TEXT,
		user_agent TEXT,
		language TEXT,
		visitor_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		screen TEXT,
		additional JSON,
		client_generated BOOLEAN NOT NULL DEFAULT 1,
		client_version TEXT,
		ip_hash TEXT,
		country TEXT,
		os TEXT,
		browser TEXT,
		platform TEXT,
		received_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_timestamp ON analytics_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_session ON analytics_events(session_id);
	`
	_, err := db.Exec(query)
	return err
}

func (c *SQLiteClient) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.Printf("Error closing event database: %v", err)
		} else {
			log.Println("Event database closed.")
		}
	}
}
