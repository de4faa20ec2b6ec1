package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sipico/sqld-gateway/internal/credential"
	"github.com/sipico/sqld-gateway/internal/errs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeFormat sorts lexically; created_at is always stored in UTC.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const serverColumns = `id, name, admin_url, normal_url, admin_auth_encrypted,
	normal_auth_encrypted, insecure_tls, created_at`

// ListServers returns every server, oldest first.
// Returns an empty slice if none are registered.
func (s *SQLiteStorage) ListServers(ctx context.Context) ([]DatabaseServer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+serverColumns+" FROM database_servers ORDER BY created_at, name")
	if err != nil {
		return nil, fmt.Errorf("failed to query servers: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	servers := []DatabaseServer{}
	for rows.Next() {
		srv, err := s.scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating servers: %w", err)
	}

	return servers, nil
}

// GetServer returns one server. Returns errs.ErrNotFound if the id is unknown.
func (s *SQLiteStorage) GetServer(ctx context.Context, id string) (DatabaseServer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+serverColumns+" FROM database_servers WHERE id = ?", id)

	srv, err := s.scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DatabaseServer{}, fmt.Errorf("%w: database server %s", errs.ErrNotFound, id)
	}
	return srv, err
}

// AddServer stores srv and returns it as stored.
// Returns errs.ErrConflict if the id or name is already taken.
func (s *SQLiteStorage) AddServer(ctx context.Context, srv DatabaseServer) (DatabaseServer, error) {
	adminAuth, err := s.seal(srv.AdminAuth)
	if err != nil {
		return DatabaseServer{}, err
	}
	normalAuth, err := s.seal(srv.NormalAuth)
	if err != nil {
		return DatabaseServer{}, err
	}
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = time.Now()
	}
	srv.CreatedAt = srv.CreatedAt.UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO database_servers (`+serverColumns+`, normal_auth_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, srv.AdminURL, srv.NormalURL, adminAuth, normalAuth,
		srv.InsecureTLS, srv.CreatedAt.Format(timeFormat), srv.NormalAuth.Type())
	if err != nil {
		if isUniqueViolation(err) {
			return DatabaseServer{}, fmt.Errorf("%w: database server %q", errs.ErrConflict, srv.Name)
		}
		return DatabaseServer{}, fmt.Errorf("failed to add server: %w", err)
	}

	return srv, nil
}

// RemoveServer deletes a server. Returns errs.ErrNotFound if the id is unknown.
func (s *SQLiteStorage) RemoveServer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM database_servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: database server %s", errs.ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanServer(row scanner) (DatabaseServer, error) {
	var (
		srv                   DatabaseServer
		adminAuth, normalAuth []byte
		createdAt             string
	)
	err := row.Scan(&srv.ID, &srv.Name, &srv.AdminURL, &srv.NormalURL,
		&adminAuth, &normalAuth, &srv.InsecureTLS, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DatabaseServer{}, err
		}
		return DatabaseServer{}, fmt.Errorf("failed to scan server row: %w", err)
	}

	if srv.AdminAuth, err = s.open(adminAuth); err != nil {
		return DatabaseServer{}, fmt.Errorf("server %s admin credential: %w", srv.ID, err)
	}
	if srv.NormalAuth, err = s.open(normalAuth); err != nil {
		return DatabaseServer{}, fmt.Errorf("server %s normal credential: %w", srv.ID, err)
	}
	if srv.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return DatabaseServer{}, fmt.Errorf("server %s created_at: %w", srv.ID, err)
	}

	return srv, nil
}

func (s *SQLiteStorage) seal(c credential.Credential) ([]byte, error) {
	plain, err := credential.Marshal(c)
	if err != nil {
		return nil, err
	}
	sealed, err := Encrypt(plain, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return sealed, nil
}

func (s *SQLiteStorage) open(sealed []byte) (credential.Credential, error) {
	plain, err := Decrypt(sealed, s.key)
	if err != nil {
		return nil, err
	}
	return credential.Unmarshal(plain)
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure. Other constraint failures (NOT NULL, CHECK) are not.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
