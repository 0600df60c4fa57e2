// Package handlers implements the HTTP handlers for the chatbridge server.
// All handlers depend on injected collaborators (store, IdP client,
// reconciler, aggregator, sink, token service); nothing is resolved lazily
// per call.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bratrax/chatbridge/internal/config"
	"github.com/bratrax/chatbridge/internal/identity"
	"github.com/bratrax/chatbridge/internal/store"
	"github.com/bratrax/chatbridge/pkg/contracts"
	pkgmw "github.com/bratrax/chatbridge/pkg/middleware"
	"github.com/bratrax/chatbridge/pkg/models"
	"github.com/rs/zerolog/log"
)

// TokenMinter mints local session tokens for resolved users.
// Implemented by auth.SessionTokenService.
type TokenMinter interface {
	Mint(user *models.LocalUser) (string, error)
}

// IdPEndpoints exposes the Lightdash addresses handlers embed in responses.
// Implemented by idp.Client.
type IdPEndpoints interface {
	BaseURL() string
	LoginURL() string
	RegisterURL() string
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Store      store.Store
	Config     *config.Config
	IdP        IdPEndpoints
	Reconciler *identity.Reconciler
	Aggregator contracts.CredentialFetcher
	Sink       contracts.CredentialInstaller
	Tokens     TokenMinter
}

// ── Integration config ──────────────────────────────────────

// GetConfig reports whether the external integration is enabled and where
// the IdP lives. The front end's startup check reads this first.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"integrationEnabled": h.Config.Lightdash.Enabled,
		"lightdashUrl":       h.IdP.BaseURL(),
	})
}

// ── Auth status ─────────────────────────────────────────────

// authStatusResponse is the feature-complete status payload: when the
// session validates, the aggregated credential bundle rides along so the
// front end can trigger propagation without a second round trip.
type authStatusResponse struct {
	Authenticated bool                     `json:"authenticated"`
	User          *models.PublicUser       `json:"user,omitempty"`
	LightdashUser *models.ExternalIdentity `json:"lightdashUser,omitempty"`
	Credentials   models.CredentialBundle  `json:"credentials,omitempty"`
	RedirectURL   string                   `json:"redirectUrl,omitempty"`
}

// AuthStatus reports the outcome of the optional external-session check.
// Mounted behind Dispatcher.Optional, so an unavailable IdP lands in the
// unauthenticated branch rather than an error.
func (h *Handlers) AuthStatus(w http.ResponseWriter, r *http.Request) {
	user := pkgmw.GetUser(r.Context())
	ext := pkgmw.GetExternalIdentity(r.Context())

	if user == nil || ext == nil {
		respondJSON(w, http.StatusOK, authStatusResponse{
			Authenticated: false,
			RedirectURL:   h.IdP.LoginURL(),
		})
		return
	}

	pub := user.Public()
	resp := authStatusResponse{
		Authenticated: true,
		User:          &pub,
		LightdashUser: ext,
	}
	if h.Aggregator != nil {
		resp.Credentials = h.Aggregator.Fetch(r.Context(), r.Header.Get("Cookie"))
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── User sync ───────────────────────────────────────────────

// SyncUser refreshes the local record from the live Lightdash identity.
// Mounted behind Dispatcher.Required; the dispatcher has already reconciled
// name/email/uuid, so this confirms the sync happened for this session.
func (h *Handlers) SyncUser(w http.ResponseWriter, r *http.Request) {
	user := pkgmw.GetUser(r.Context())
	ext := pkgmw.GetExternalIdentity(r.Context())
	if user == nil || ext == nil {
		respondError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "User data synced successfully",
	})
}

// SyncUserFromLightdash receives an inbound push from Lightdash when a user
// registers there. Creates the local user (201) or updates the existing one
// (200); missing required fields are a 400.
func (h *Handlers) SyncUserFromLightdash(w http.ResponseWriter, r *http.Request) {
	var push identity.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := push.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, created, err := h.Reconciler.Upsert(r.Context(), push)
	if err != nil {
		log.Error().Err(err).Str("lightdash_uuid", push.LightdashUUID).Msg("inbound user sync failed")
		respondError(w, http.StatusInternalServerError, "Failed to sync user from Lightdash")
		return
	}

	status := http.StatusOK
	message := "User updated successfully"
	if created {
		status = http.StatusCreated
		message = "User created successfully"
	}
	respondJSON(w, status, map[string]interface{}{
		"success": true,
		"message": message,
		"userId":  user.ID,
	})
}

// ── Credential propagation ──────────────────────────────────

// SaveCredentials aggregates the session's downstream credentials and
// installs them into the per-user credential store.
//
// Defense in depth: the route sits behind Dispatcher.Required (external
// session re-validated in this request), and the handler independently
// requires a valid local session token. Propagation runs only when both
// are simultaneously confirmed; a client-asserted flag is never trusted.
func (h *Handlers) SaveCredentials(local contracts.LocalAuthenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := pkgmw.GetUser(r.Context())
		ext := pkgmw.GetExternalIdentity(r.Context())
		if user == nil || ext == nil {
			respondError(w, http.StatusForbidden, "External session required")
			return
		}
		if local == nil {
			respondError(w, http.StatusForbidden, "Local session required")
			return
		}

		localUser, err := local.Authenticate(r.Context(), r)
		if err != nil || localUser == nil {
			respondError(w, http.StatusForbidden, "Local session required")
			return
		}
		if localUser.ID != user.ID {
			respondError(w, http.StatusForbidden, "Session mismatch")
			return
		}

		bundle := h.Aggregator.Fetch(r.Context(), r.Header.Get("Cookie"))
		results := h.Sink.Install(r.Context(), user.ID, bundle)
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"results": results,
		})
	}
}

// ── Local token exchange ────────────────────────────────────

type lightdashLoginRequest struct {
	User struct {
		LightdashUUID string `json:"lightdashUuid"`
	} `json:"user"`
}

// LightdashLogin mints a local session token for a user previously
// reconciled from Lightdash. No user is created here; unknown uuids 404.
func (h *Handlers) LightdashLogin(w http.ResponseWriter, r *http.Request) {
	var req lightdashLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User.LightdashUUID == "" {
		respondError(w, http.StatusBadRequest, "Missing user.lightdashUuid")
		return
	}

	user, err := h.Store.FindUserByLightdashUUID(r.Context(), req.User.LightdashUUID)
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Msg("lightdash-login lookup failed")
		respondError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}

	token, err := h.Tokens.Mint(user)
	if err != nil {
		log.Error().Err(err).Str("user", user.ID).Msg("token mint failed")
		respondError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":            user.ID,
			"name":          user.Name,
			"email":         user.Email,
			"avatar":        user.Avatar,
			"role":          user.Role,
			"provider":      models.ProviderLightdash,
			"lightdashUuid": user.LightdashUUID,
		},
	})
}

// ── Login/register redirects ────────────────────────────────

// LoginRedirect answers the chat app's login route while the integration is
// enabled: authentication happens at Lightdash, so the client is pointed
// there instead of at the local password flow.
func (h *Handlers) LoginRedirect(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"redirectUrl": h.IdP.LoginURL(),
		"message":     "Please login through Lightdash",
	})
}

// RegisterRedirect is the registration counterpart of LoginRedirect.
func (h *Handlers) RegisterRedirect(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"redirectUrl": h.IdP.RegisterURL(),
		"message":     "Please register through Lightdash",
	})
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
