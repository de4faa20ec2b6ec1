package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db  *sql.DB
	key []byte
}

// New opens (or creates) the database at dbPath and derives the credential
// encryption key from passphrase. The salt is created on first use and kept
// in the config table, so the same passphrase opens the same database; a
// different passphrase fails with ErrWrongPassphrase.
// Use ":memory:" for tests.
func New(dbPath, passphrase string) (*SQLiteStorage, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase is required")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite requires single connection for in-process file databases
	// to avoid "database is locked" errors; it also keeps ":memory:" shared
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := InitSchema(db); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	key, err := loadKey(db, passphrase)
	if err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, err
	}

	return &SQLiteStorage{db: db, key: key}, nil
}

// keyCheckPlaintext is encrypted with the derived key and stored next to the
// salt; failing to decrypt it means the passphrase changed.
var keyCheckPlaintext = []byte("sqld-gateway key check")

// loadKey derives the storage key from passphrase and the stored salt,
// creating both the salt and the check value on first start.
func loadKey(db *sql.DB, passphrase string) ([]byte, error) {
	var salt, check []byte
	err := db.QueryRow("SELECT kdf_salt, key_check FROM config WHERE id = 1").Scan(&salt, &check)
	if errors.Is(err, sql.ErrNoRows) {
		return createKey(db, passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key salt: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	if check == nil {
		if err := storeKeyCheck(db, key); err != nil {
			return nil, err
		}
		return key, nil
	}
	plain, err := Decrypt(check, key)
	if err != nil || !bytes.Equal(plain, keyCheckPlaintext) {
		return nil, ErrWrongPassphrase
	}
	return key, nil
}

func createKey(db *sql.DB, passphrase string) ([]byte, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key salt: %w", err)
	}
	if _, err := db.Exec("INSERT INTO config (id, kdf_salt) VALUES (1, ?)", salt); err != nil {
		return nil, fmt.Errorf("failed to store key salt: %w", err)
	}
	key := DeriveKey(passphrase, salt)
	if err := storeKeyCheck(db, key); err != nil {
		return nil, err
	}
	return key, nil
}

func storeKeyCheck(db *sql.DB, key []byte) error {
	check, err := Encrypt(keyCheckPlaintext, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt key check: %w", err)
	}
	if _, err := db.Exec("UPDATE config SET key_check = ? WHERE id = 1", check); err != nil {
		return fmt.Errorf("failed to store key check: %w", err)
	}
	return nil
}

// Ping verifies database connectivity with a lightweight query.
// Used by the readiness endpoint.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("database ping returned unexpected result: %d", result)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
