// Package storage persists registered database servers in SQLite.
// Credentials are encrypted at rest with AES-256-GCM.
package storage

import (
	"context"
	"time"

	"github.com/sipico/sqld-gateway/internal/credential"
)

// DatabaseServer is a registered sqld server. Values are passed by copy;
// nothing outside this package mutates a stored record.
type DatabaseServer struct {
	ID          string
	Name        string
	AdminURL    string
	NormalURL   string
	AdminAuth   credential.Credential
	NormalAuth  credential.Credential
	InsecureTLS bool
	CreatedAt   time.Time
}

// Storage is the persistence collaborator used by the gateway.
type Storage interface {
	ListServers(ctx context.Context) ([]DatabaseServer, error)
	GetServer(ctx context.Context, id string) (DatabaseServer, error)
	AddServer(ctx context.Context, srv DatabaseServer) (DatabaseServer, error)
	RemoveServer(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
