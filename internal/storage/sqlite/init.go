package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the ledger tables if they
// don't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS clients (
		client_id TEXT PRIMARY KEY,
		metadata_uri TEXT NOT NULL,
		metadata_handle TEXT,
		last_metadata_update DATETIME,
		download_over_metered INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS wordlists (
		client_id TEXT NOT NULL,
		wordlist_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		format_version INTEGER NOT NULL DEFAULT 1,
		status INTEGER NOT NULL,
		locale TEXT,
		description TEXT,
		checksum TEXT,
		remote_url TEXT,
		local_filename TEXT,
		download_handle TEXT,
		file_size INTEGER NOT NULL DEFAULT 0,
		last_update INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (client_id, wordlist_id, version)
	)`); err != nil {
		return nil, err
	}

	return db, nil
}
