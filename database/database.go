package database

import (
	"database/sql"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mbolis/intelliform/config"
)

// dsn turns the configured file path into a go-sqlite3 DSN with foreign keys
// on, a busy timeout for concurrent writers and WAL journaling.
func dsn(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Open connects to the SQLite database of cfg and migrates it.
func Open(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBUrl))
	if err != nil {
		return nil, err
	}

	// sqlite has a single writer; a few connections serve concurrent readers
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
