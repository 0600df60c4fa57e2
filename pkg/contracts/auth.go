// Package contracts defines the interfaces at the boundary of the authentication
// bridge.
//
// These types separate the dispatcher (fixed policy) from the pluggable
// collaborators it coordinates: the external session validator, the local
// authenticator, the balance collaborator and the credential fetcher. No
// handler ever knows which side of the bridge produced the user on its
// request context.
package contracts

import (
	"context"
	"net/http"

	"github.com/bratrax/chatbridge/pkg/models"
)

// ── External session ─────────────────────────────────────────

// SessionState classifies the outcome of one external-session validation.
//
// The four-way split is deliberate: it lets the dispatcher distinguish
// "the user must log in" (Unauthenticated) from "the provider is down,
// proceed locally" (Unavailable) from "something is actually broken"
// (Error). Collapsing these into success/failure loses the policy's
// fallback semantics.
type SessionState int

const (
	// SessionAuthenticated: the IdP returned a well-formed identity.
	SessionAuthenticated SessionState = iota
	// SessionUnauthenticated: the IdP answered but rejected the session
	// (4xx), or answered 200 with a missing/malformed identity payload.
	SessionUnauthenticated
	// SessionUnavailable: the IdP is unreachable or timed out.
	SessionUnavailable
	// SessionError: the IdP failed in an unexpected way (5xx, transport
	// fault mid-response). The only state that maps to a 500.
	SessionError
)

// String returns the state name for logging.
func (s SessionState) String() string {
	switch s {
	case SessionAuthenticated:
		return "authenticated"
	case SessionUnauthenticated:
		return "unauthenticated"
	case SessionUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

// SessionCheck is the result of validating one browser session against the
// IdP. Identity is non-nil only when State is SessionAuthenticated; Err is
// non-nil only when State is SessionError or SessionUnavailable.
type SessionCheck struct {
	State    SessionState
	Identity *models.ExternalIdentity
	Err      error
}

// SessionValidator validates a forwarded cookie set against the external
// identity provider.
type SessionValidator interface {
	// CurrentUser forwards the raw Cookie header to the IdP's current-user
	// endpoint and classifies the response. It never returns an error
	// directly; failures are folded into the SessionCheck state.
	CurrentUser(ctx context.Context, cookie string) SessionCheck

	// LoginURL returns the IdP's login endpoint, used as the redirect
	// target on unauthenticated responses.
	LoginURL() string
}

// CredentialFetcher aggregates downstream integration credentials on behalf
// of an authenticated external session.
type CredentialFetcher interface {
	// Fetch runs the per-source reads and merges their contributions.
	// Best-effort: a failed source contributes nothing and never fails
	// the aggregate.
	Fetch(ctx context.Context, cookie string) models.CredentialBundle
}

// ── Local collaborators ──────────────────────────────────────

// LocalAuthenticator authenticates a request against the chat application's
// own session mechanism (JWT cookie/header).
//
// Contract, mirrored from the auth provider chain pattern:
//   - (*LocalUser, nil)  → authenticated
//   - (nil, nil)         → no local credentials present
//   - (nil, error)       → credentials present but invalid
type LocalAuthenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*models.LocalUser, error)
}

// BalanceProvider supplies the quota configuration applied to new users.
// It is an external collaborator; implementations may be remote and
// callers must tolerate failure by substituting an empty config.
type BalanceProvider interface {
	BalanceConfig(ctx context.Context) (models.BalanceConfig, error)
}

// CredentialInstaller installs aggregated credentials into the per-user
// integration-credential store. Installs are idempotent upserts.
type CredentialInstaller interface {
	Install(ctx context.Context, userID string, bundle models.CredentialBundle) []InstallResult
}

// InstallResult reports the outcome of installing one integration's
// credentials.
type InstallResult struct {
	Integration string `json:"integration"`
	Installed   bool   `json:"installed"`
	Error       string `json:"error,omitempty"`
}
