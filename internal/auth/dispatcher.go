package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bratrax/chatbridge/pkg/contracts"
	pkgmw "github.com/bratrax/chatbridge/pkg/middleware"
	"github.com/bratrax/chatbridge/pkg/models"
	"github.com/rs/zerolog/log"
)

// IdentityReconciler resolves a local user for an external identity.
// Implemented by identity.Reconciler.
type IdentityReconciler interface {
	Sync(ctx context.Context, ext *models.ExternalIdentity) (*models.LocalUser, error)
}

// Dispatcher is the per-request authentication policy. With the integration
// flag off it runs only the local authenticator; with the flag on it
// validates the browser's Lightdash session, reconciles the identity, and
// falls back to local auth when Lightdash is unavailable. Exactly one path
// runs per request.
type Dispatcher struct {
	enabled    bool
	validator  contracts.SessionValidator
	reconciler IdentityReconciler
	local      contracts.LocalAuthenticator
}

// NewDispatcher wires the dispatcher. All collaborators are injected at
// construction; nothing is resolved lazily per call.
func NewDispatcher(enabled bool, validator contracts.SessionValidator, reconciler IdentityReconciler, local contracts.LocalAuthenticator) *Dispatcher {
	return &Dispatcher{
		enabled:    enabled,
		validator:  validator,
		reconciler: reconciler,
		local:      local,
	}
}

// ── Required mode ───────────────────────────────────────────

// Required returns middleware that halts unauthenticated requests.
// External rejections carry the Lightdash login URL as redirectUrl; an
// unavailable Lightdash falls back to local auth when it is configured.
func (d *Dispatcher) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.enabled {
			d.requireLocal(w, r, next)
			return
		}

		check := d.validator.CurrentUser(r.Context(), r.Header.Get("Cookie"))
		switch check.State {
		case contracts.SessionAuthenticated:
			user, err := d.reconciler.Sync(r.Context(), check.Identity)
			if err != nil {
				log.Error().Err(err).Str("lightdash_uuid", check.Identity.UserUUID).Msg("identity reconciliation failed")
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"message": "Authentication service error",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), user, check.Identity)))

		case contracts.SessionUnauthenticated:
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"message":     "Authentication required",
				"redirectUrl": d.validator.LoginURL(),
			})

		case contracts.SessionUnavailable:
			log.Warn().Msg("lightdash unavailable, falling back to local auth")
			if d.local != nil {
				d.requireLocal(w, r, next)
				return
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"message": "Authentication service unavailable",
			})

		default: // SessionError
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"message": "Authentication service error",
			})
		}
	})
}

func (d *Dispatcher) requireLocal(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if d.local == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"message": "Authentication required",
		})
		return
	}
	user, err := d.local.Authenticate(r.Context(), r)
	if err != nil || user == nil {
		if err != nil {
			log.Debug().Err(err).Msg("local authentication failed")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"message": "Authentication required",
		})
		return
	}
	next.ServeHTTP(w, r.WithContext(pkgmw.SetUser(r.Context(), user)))
}

// ── Optional mode ───────────────────────────────────────────

// Optional returns middleware that attaches the resolved user and external
// identity when the Lightdash session validates, and proceeds anonymously
// in every other case. Failure or unavailability never blocks the caller.
func (d *Dispatcher) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.enabled {
			next.ServeHTTP(w, r)
			return
		}

		check := d.validator.CurrentUser(r.Context(), r.Header.Get("Cookie"))
		if check.State != contracts.SessionAuthenticated {
			next.ServeHTTP(w, r)
			return
		}
		user, err := d.reconciler.Sync(r.Context(), check.Identity)
		if err != nil {
			// Optional mode swallows reconciliation failures; downstream
			// observes the absence of an identity.
			log.Warn().Err(err).Msg("optional auth: reconciliation failed, continuing anonymously")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), user, check.Identity)))
	})
}

func withAuth(ctx context.Context, user *models.LocalUser, identity *models.ExternalIdentity) context.Context {
	ctx = pkgmw.SetUser(ctx, user)
	return pkgmw.SetExternalIdentity(ctx, identity)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
