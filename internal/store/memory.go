// In-memory Store implementation, used in tests and local development.
// Uniqueness on LightdashUUID is enforced under the store lock, which is
// what a unique index provides in a database-backed implementation.

package store

import (
	"context"
	"sync"
	"time"

	"github.com/bratrax/chatbridge/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*models.LocalUser            // key: id
	byUUID      map[string]string                       // lightdashUuid → id
	byEmail     map[string]string                       // email → id
	credentials map[string]models.IntegrationCredential // key: userID:integration
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*models.LocalUser),
		byUUID:      make(map[string]string),
		byEmail:     make(map[string]string),
		credentials: make(map[string]models.IntegrationCredential),
	}
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }
func (m *MemoryStore) Close() error                 { return nil }

// ── Users ───────────────────────────────────────────────────

func (m *MemoryStore) GetUser(_ context.Context, id string) (*models.LocalUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: id}
	}
	u := *user
	return &u, nil
}

func (m *MemoryStore) FindUserByLightdashUUID(_ context.Context, uuid string) (*models.LocalUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUUID[uuid]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: uuid}
	}
	u := *m.users[id]
	return &u, nil
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.LocalUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: email}
	}
	u := *m.users[id]
	return &u, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, user *models.LocalUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unique constraint: one user per non-empty LightdashUUID.
	if user.LightdashUUID != "" {
		if _, exists := m.byUUID[user.LightdashUUID]; exists {
			return &ErrConflict{Entity: "user", Key: user.LightdashUUID}
		}
	}
	if user.Email != "" {
		if _, exists := m.byEmail[user.Email]; exists {
			return &ErrConflict{Entity: "user", Key: user.Email}
		}
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	u := *user
	m.users[u.ID] = &u
	if u.LightdashUUID != "" {
		m.byUUID[u.LightdashUUID] = u.ID
	}
	if u.Email != "" {
		m.byEmail[u.Email] = u.ID
	}
	return nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, id string, upd UserUpdate) (*models.LocalUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: id}
	}

	if upd.Name != nil {
		user.Name = *upd.Name
	}
	if upd.Email != nil && *upd.Email != user.Email {
		delete(m.byEmail, user.Email)
		user.Email = *upd.Email
		if user.Email != "" {
			m.byEmail[user.Email] = id
		}
	}
	if upd.LightdashUUID != nil && *upd.LightdashUUID != user.LightdashUUID {
		if *upd.LightdashUUID != "" {
			if holder, exists := m.byUUID[*upd.LightdashUUID]; exists && holder != id {
				return nil, &ErrConflict{Entity: "user", Key: *upd.LightdashUUID}
			}
		}
		delete(m.byUUID, user.LightdashUUID)
		user.LightdashUUID = *upd.LightdashUUID
		if user.LightdashUUID != "" {
			m.byUUID[user.LightdashUUID] = id
		}
	}
	user.UpdatedAt = time.Now().UTC()

	u := *user
	return &u, nil
}

// ── Credentials ─────────────────────────────────────────────

func credentialKey(userID, integration string) string {
	return userID + ":" + integration
}

func (m *MemoryStore) UpsertCredential(_ context.Context, userID, integration string, cred models.IntegrationCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[credentialKey(userID, integration)] = cred
	return nil
}

func (m *MemoryStore) GetCredential(_ context.Context, userID, integration string) (*models.IntegrationCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.credentials[credentialKey(userID, integration)]
	if !ok {
		return nil, &ErrNotFound{Entity: "credential", Key: credentialKey(userID, integration)}
	}
	c := cred
	return &c, nil
}

func (m *MemoryStore) ListCredentials(_ context.Context, userID string) (map[string]models.IntegrationCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.IntegrationCredential)
	prefix := userID + ":"
	for key, cred := range m.credentials {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[key[len(prefix):]] = cred
		}
	}
	return out, nil
}
