package store_test

import (
	"context"
	"testing"

	"github.com/bratrax/chatbridge/internal/store"
	"github.com/bratrax/chatbridge/pkg/models"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Users ───────────────────────────────────────────────────

func TestCreateAndFindUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &models.LocalUser{
		ID:            "u1",
		Name:          "Ada Lovelace",
		Email:         "ada@x.com",
		LightdashUUID: "ld-1",
		Role:          models.RoleUser,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	got, err := s.FindUserByLightdashUUID(ctx, "ld-1")
	if err != nil {
		t.Fatalf("FindUserByLightdashUUID() error = %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("FindUserByLightdashUUID().ID = %q, want %q", got.ID, "u1")
	}

	got, err = s.FindUserByEmail(ctx, "ada@x.com")
	if err != nil {
		t.Fatalf("FindUserByEmail() error = %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("FindUserByEmail().ID = %q, want %q", got.ID, "u1")
	}
}

func TestFindUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FindUserByLightdashUUID(context.Background(), "missing")
	if _, ok := err.(*store.ErrNotFound); !ok {
		t.Errorf("FindUserByLightdashUUID() error = %v, want *ErrNotFound", err)
	}
}

func TestCreateUser_UUIDConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, &models.LocalUser{ID: "u1", Email: "a@x.com", LightdashUUID: "ld-1"}); err != nil {
		t.Fatalf("CreateUser() first call error = %v", err)
	}
	err := s.CreateUser(ctx, &models.LocalUser{ID: "u2", Email: "b@x.com", LightdashUUID: "ld-1"})
	if _, ok := err.(*store.ErrConflict); !ok {
		t.Errorf("CreateUser() duplicate uuid error = %v, want *ErrConflict", err)
	}
}

func TestUpdateUser_PartialFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateUser(ctx, &models.LocalUser{
		ID:            "u1",
		Name:          "Old Name",
		Email:         "old@x.com",
		LightdashUUID: "ld-1",
		Role:          models.RoleAdmin,
	})

	email := "new@x.com"
	updated, err := s.UpdateUser(ctx, "u1", store.UserUpdate{Email: &email})
	if err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if updated.Email != "new@x.com" {
		t.Errorf("Email = %q, want %q", updated.Email, "new@x.com")
	}
	if updated.Name != "Old Name" {
		t.Errorf("Name changed to %q on email-only update", updated.Name)
	}
	if updated.Role != models.RoleAdmin {
		t.Errorf("Role changed to %q, sync must never touch role", updated.Role)
	}

	// Old email index is released, new one resolves.
	if _, err := s.FindUserByEmail(ctx, "old@x.com"); err == nil {
		t.Error("FindUserByEmail(old) should fail after update")
	}
	if _, err := s.FindUserByEmail(ctx, "new@x.com"); err != nil {
		t.Errorf("FindUserByEmail(new) error = %v", err)
	}
}

func TestUpdateUser_UUIDConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateUser(ctx, &models.LocalUser{ID: "u1", Email: "a@x.com", LightdashUUID: "ld-1"})
	s.CreateUser(ctx, &models.LocalUser{ID: "u2", Email: "b@x.com"})

	uuid := "ld-1"
	_, err := s.UpdateUser(ctx, "u2", store.UserUpdate{LightdashUUID: &uuid})
	if _, ok := err.(*store.ErrConflict); !ok {
		t.Errorf("UpdateUser() stealing uuid error = %v, want *ErrConflict", err)
	}
}

// ─── Credentials ─────────────────────────────────────────────

func TestUpsertCredential_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cred := models.IntegrationCredential{Identifiers: "123", Token: "tok-1"}
	if err := s.UpsertCredential(ctx, "u1", "google_ads", cred); err != nil {
		t.Fatalf("UpsertCredential() error = %v", err)
	}
	// Replaying the same install converges on the same state.
	if err := s.UpsertCredential(ctx, "u1", "google_ads", cred); err != nil {
		t.Fatalf("UpsertCredential() replay error = %v", err)
	}

	got, err := s.GetCredential(ctx, "u1", "google_ads")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if got.Token != "tok-1" {
		t.Errorf("Token = %q, want %q", got.Token, "tok-1")
	}

	// Replace on re-install with new values.
	s.UpsertCredential(ctx, "u1", "google_ads", models.IntegrationCredential{Identifiers: "123", Token: "tok-2"})
	got, _ = s.GetCredential(ctx, "u1", "google_ads")
	if got.Token != "tok-2" {
		t.Errorf("After replace, Token = %q, want %q", got.Token, "tok-2")
	}
}

func TestListCredentials_ScopedToUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertCredential(ctx, "u1", "google_ads", models.IntegrationCredential{Token: "t1"})
	s.UpsertCredential(ctx, "u1", "lightdash", models.IntegrationCredential{Token: "t2"})
	s.UpsertCredential(ctx, "u2", "google_ads", models.IntegrationCredential{Token: "t3"})

	creds, err := s.ListCredentials(ctx, "u1")
	if err != nil {
		t.Fatalf("ListCredentials() error = %v", err)
	}
	if len(creds) != 2 {
		t.Errorf("ListCredentials() returned %d entries, want 2", len(creds))
	}
	if creds["google_ads"].Token != "t1" {
		t.Errorf("google_ads token = %q, want %q", creds["google_ads"].Token, "t1")
	}
}
