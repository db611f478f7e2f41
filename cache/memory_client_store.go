package cache

import (
	"context"
	"sync"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
)

// MemoryClientStore is a map-backed domain.ClientRepository for development
// and tests.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]*domain.Client)}
}

func (s *MemoryClientStore) CreateClient(_ context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *client
	s.clients[client.ID] = &clone
	return nil
}

func (s *MemoryClientStore) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, serrors.ErrClientNotFound
	}
	clone := *client
	return &clone, nil
}

func (s *MemoryClientStore) UpdateClient(_ context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client.ID]; !ok {
		return serrors.ErrClientNotFound
	}
	clone := *client
	s.clients[client.ID] = &clone
	return nil
}

func (s *MemoryClientStore) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	return nil
}

func (s *MemoryClientStore) ListClients(_ context.Context) ([]*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]*domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clone := *c
		clients = append(clients, &clone)
	}
	return clients, nil
}
