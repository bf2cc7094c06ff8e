package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mbolis/intelliform/apperr"
	"golang.org/x/crypto/bcrypt"
)

func (s *Store) CreateUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return apperr.New(apperr.Internal, "user.hash_password", "", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO user (username, password_hash) VALUES (?, ?)",
		username, hash,
	)
	if isUniqueViolation(err) {
		return apperr.NewConflict("db.insert_user.exists", "username already taken")
	}
	return storageErr("db.insert_user", err)
}

// CheckPassword fails with Unauthorized for an unknown user or a wrong password.
func (s *Store) CheckPassword(ctx context.Context, username, password string) error {
	var hash []byte
	err := s.db.
		QueryRowContext(ctx, "SELECT password_hash FROM user WHERE username = ?", username).
		Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.Unauthorized, "user.unknown", "invalid credentials", nil)
	}
	if err != nil {
		return storageErr("db.get_user", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return apperr.New(apperr.Unauthorized, "user.password", "invalid credentials", err)
	}
	return nil
}

func (s *Store) StoreToken(ctx context.Context, username, tokenID, refreshTokenID string, expiration time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO token (username, token_id, refresh_token_id, expiration) VALUES (?, ?, ?, ?)",
		username,
		tokenID,
		refreshTokenID,
		expiration,
	)
	return storageErr("db.insert_token", err)
}

// ConsumeToken deletes the refresh token record and reports whether it existed
// and was still valid.
func (s *Store) ConsumeToken(ctx context.Context, username, tokenID, refreshTokenID string) (bool, error) {
	var expiration time.Time
	err := s.db.
		QueryRowContext(ctx, `
			DELETE FROM token
			WHERE username = ?
				AND token_id = ?
				AND refresh_token_id = ?
			RETURNING expiration`,
			username,
			tokenID,
			refreshTokenID,
		).
		Scan(&expiration)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("db.consume_token", err)
	}
	return expiration.After(time.Now()), nil
}
