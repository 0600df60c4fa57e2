// Package store provides the storage interface and implementations for the
// chatbridge server. Handler and reconciler code depend on the interface
// only, so the in-memory implementation used in tests and local development
// can be swapped for a database-backed one without touching the bridge.
package store

import (
	"context"

	"github.com/bratrax/chatbridge/pkg/models"
)

// Store is the primary storage interface for the bridge.
type Store interface {
	UserStore
	CredentialStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── User Store ──────────────────────────────────────────────

// UserUpdate is the set of fields a sync is allowed to touch. Nil fields
// are left unchanged. Role and ID are deliberately absent: reconciliation
// never overwrites them.
type UserUpdate struct {
	Name          *string
	Email         *string
	LightdashUUID *string
}

type UserStore interface {
	// GetUser returns a user by internal id.
	GetUser(ctx context.Context, id string) (*models.LocalUser, error)

	// FindUserByLightdashUUID returns the user joined to the given
	// external identifier, or *ErrNotFound.
	FindUserByLightdashUUID(ctx context.Context, uuid string) (*models.LocalUser, error)

	// FindUserByEmail returns the user with the given email, or *ErrNotFound.
	FindUserByEmail(ctx context.Context, email string) (*models.LocalUser, error)

	// CreateUser persists a new user. Returns *ErrConflict if another user
	// already holds the same non-empty LightdashUUID; callers treat that
	// as "already exists, fall through to update".
	CreateUser(ctx context.Context, user *models.LocalUser) error

	// UpdateUser applies a partial update and returns the updated record.
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*models.LocalUser, error)
}

// ── Credential Store ────────────────────────────────────────

// CredentialStore is the per-user integration-credential store consumed by
// the propagation sink. Upserts are idempotent: install if absent, else
// replace.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, userID, integration string, cred models.IntegrationCredential) error
	GetCredential(ctx context.Context, userID, integration string) (*models.IntegrationCredential, error)
	ListCredentials(ctx context.Context, userID string) (map[string]models.IntegrationCredential, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when a create would violate a uniqueness
// constraint (one user per LightdashUUID).
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}
