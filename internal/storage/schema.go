package storage

import (
	"database/sql"
	"fmt"
)

// InitSchema creates all required tables and indexes.
// This is idempotent - safe to call multiple times.
func InitSchema(db *sql.DB) error {
	ddlStatements := []string{
		// config table: single row holding the key derivation salt and a value
		// encrypted with the derived key, used to detect a changed passphrase
		`CREATE TABLE IF NOT EXISTS config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			kdf_salt BLOB NOT NULL,
			key_check BLOB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// database_servers table: registered sqld servers with encrypted credentials
		`CREATE TABLE IF NOT EXISTS database_servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			admin_url TEXT NOT NULL,
			normal_url TEXT NOT NULL,
			admin_auth_encrypted BLOB NOT NULL,
			normal_auth_encrypted BLOB NOT NULL,
			normal_auth_type TEXT NOT NULL,
			insecure_tls INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_database_servers_created ON database_servers(created_at)`,
	}

	for _, stmt := range ddlStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}
