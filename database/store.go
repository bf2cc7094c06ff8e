package database

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
	"github.com/mbolis/intelliform/apperr"
)

// Store is the record store behind every handler. Each method is atomic on its
// own; nothing spans more than one call.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func storageErr(code string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.NewStorage(code, err)
}
