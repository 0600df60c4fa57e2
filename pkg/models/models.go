// Package models defines the shared data types for the chatbridge identity
// bridge: the persistent local user record, the per-request external identity
// received from Lightdash, and the ephemeral credential bundle aggregated on
// behalf of an authenticated session.
package models

import (
	"strings"
	"time"
)

// ── Roles & providers ────────────────────────────────────────

// UserRole is the chat application's authorization role.
type UserRole string

const (
	// RoleUser is the least-privileged standard role assigned to every
	// user created through the bridge.
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// ProviderLightdash tags users whose canonical identity lives in Lightdash.
const ProviderLightdash = "lightdash"

// ── LocalUser ────────────────────────────────────────────────

// LocalUser is the persistent user record in the chat application's store.
//
// At most one LocalUser exists per non-empty LightdashUUID; the store
// enforces this. Sync updates only Name, Email and LightdashUUID; ID and
// Role are never overwritten after creation.
type LocalUser struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	LightdashUUID string    `json:"lightdashUuid,omitempty"`
	Provider      string    `json:"provider"`
	Role          UserRole  `json:"role"`
	TermsAccepted bool      `json:"termsAccepted"`
	Avatar        string    `json:"avatar,omitempty"`
	TokenBalance  int64     `json:"tokenBalance,omitempty"`
	AutoRefill    bool      `json:"autoRefill,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PublicUser is the subset of LocalUser exposed on the auth-status surface.
// Role and internal flags never leave the server.
type PublicUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	LightdashUUID string `json:"lightdashUuid,omitempty"`
}

// Public returns the externally visible projection of the user.
func (u *LocalUser) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		LightdashUUID: u.LightdashUUID,
	}
}

// ── ExternalIdentity ─────────────────────────────────────────

// ExternalIdentity is the identity payload returned by the Lightdash
// "current user" endpoint. It is immutable per response and re-fetched on
// every validation cycle; nothing here is persisted directly.
type ExternalIdentity struct {
	UserUUID         string `json:"userUuid"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	OrganizationName string `json:"organizationName,omitempty"`
	OrganizationUUID string `json:"organizationUuid,omitempty"`
}

// FullName returns the trimmed concatenation of the name parts.
func (e ExternalIdentity) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// UsernameFromEmail derives a deterministic username from the local part of
// an email address ("a@x.com" → "a").
func UsernameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// ── Credentials ──────────────────────────────────────────────

// IntegrationCredential is one downstream integration's secrets: a
// comma-joined identifier list (account ids, project uuids) and the secret
// token used to act on them.
type IntegrationCredential struct {
	Identifiers string `json:"identifiers,omitempty"`
	Token       string `json:"token,omitempty"`
}

// Empty reports whether the credential carries nothing worth installing.
func (c IntegrationCredential) Empty() bool {
	return c.Identifiers == "" && c.Token == ""
}

// CredentialBundle is the per-session aggregation of downstream integration
// credentials, keyed by integration name. It lives for one validation cycle
// only; individual entries are installed into the per-user credential store
// and the bundle itself is discarded.
type CredentialBundle map[string]IntegrationCredential

// ── Balance ──────────────────────────────────────────────────

// BalanceConfig is the quota configuration applied to newly created users.
// The provider that supplies it is an external collaborator; an empty
// config is always an acceptable substitute.
type BalanceConfig struct {
	Enabled      bool  `json:"enabled"`
	StartBalance int64 `json:"startBalance"`
	AutoRefill   bool  `json:"autoRefill"`
}
