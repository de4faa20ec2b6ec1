// Package mockstore provides a configurable mock implementation of storage.Storage for testing.
//
// The MockStorage type uses function fields for each method, allowing tests to customize behavior
// as needed. Unset fields fall back to an in-memory server table so gateway tests can run against
// a store that behaves like the real one.
package mockstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sipico/sqld-gateway/internal/errs"
	"github.com/sipico/sqld-gateway/internal/storage"
)

// MockStorage is a configurable mock implementation of storage.Storage.
// Each method can be customized by setting the corresponding function field.
// If a function field is nil, the method operates on the in-memory table.
type MockStorage struct {
	ListServersFunc  func(ctx context.Context) ([]storage.DatabaseServer, error)
	GetServerFunc    func(ctx context.Context, id string) (storage.DatabaseServer, error)
	AddServerFunc    func(ctx context.Context, srv storage.DatabaseServer) (storage.DatabaseServer, error)
	RemoveServerFunc func(ctx context.Context, id string) error

	// Lifecycle
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error

	mu      sync.Mutex
	servers map[string]storage.DatabaseServer
}

// New returns a MockStorage preloaded with servers.
func New(servers ...storage.DatabaseServer) *MockStorage {
	m := &MockStorage{}
	for _, srv := range servers {
		m.put(srv)
	}
	return m
}

func (m *MockStorage) put(srv storage.DatabaseServer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.servers == nil {
		m.servers = make(map[string]storage.DatabaseServer)
	}
	m.servers[srv.ID] = srv
}

// ListServers returns all servers ordered by creation time.
func (m *MockStorage) ListServers(ctx context.Context) ([]storage.DatabaseServer, error) {
	if m.ListServersFunc != nil {
		return m.ListServersFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.DatabaseServer, 0, len(m.servers))
	for _, srv := range m.servers {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetServer returns a server by id.
func (m *MockStorage) GetServer(ctx context.Context, id string) (storage.DatabaseServer, error) {
	if m.GetServerFunc != nil {
		return m.GetServerFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[id]
	if !ok {
		return storage.DatabaseServer{}, fmt.Errorf("%w: database server %s", errs.ErrNotFound, id)
	}
	return srv, nil
}

// AddServer stores a server, enforcing unique ids and names.
func (m *MockStorage) AddServer(ctx context.Context, srv storage.DatabaseServer) (storage.DatabaseServer, error) {
	if m.AddServerFunc != nil {
		return m.AddServerFunc(ctx, srv)
	}
	m.mu.Lock()
	for _, existing := range m.servers {
		if existing.ID == srv.ID || existing.Name == srv.Name {
			m.mu.Unlock()
			return storage.DatabaseServer{}, fmt.Errorf("%w: database server %q", errs.ErrConflict, srv.Name)
		}
	}
	m.mu.Unlock()

	if srv.ID == "" {
		srv.ID = uuid.NewString()
	}
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = time.Now().UTC()
	}
	m.put(srv)
	return srv, nil
}

// RemoveServer deletes a server by id.
func (m *MockStorage) RemoveServer(ctx context.Context, id string) error {
	if m.RemoveServerFunc != nil {
		return m.RemoveServerFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[id]; !ok {
		return fmt.Errorf("%w: database server %s", errs.ErrNotFound, id)
	}
	delete(m.servers, id)
	return nil
}

// Ping checks the store.
func (m *MockStorage) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close releases resources.
func (m *MockStorage) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
