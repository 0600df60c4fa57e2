// Package identity implements reconciliation between Lightdash identities
// and local user records. The Lightdash userUuid is the join key: the first
// sync for a uuid creates the local user, every later sync updates only the
// mutable fields.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/bratrax/chatbridge/internal/store"
	"github.com/bratrax/chatbridge/pkg/contracts"
	"github.com/bratrax/chatbridge/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Reconciler maps external identities onto local user records.
type Reconciler struct {
	store   store.Store
	balance contracts.BalanceProvider
}

// NewReconciler creates a reconciler. balance may be nil, in which case new
// users get an empty quota configuration.
func NewReconciler(s store.Store, balance contracts.BalanceProvider) *Reconciler {
	return &Reconciler{store: s, balance: balance}
}

// Sync resolves the local user for an external identity, creating it on
// first contact. Re-applying the same identity is a no-op beyond the
// UpdatedAt bump. Storage failures propagate; the dispatcher surfaces them
// as errors, never as "unauthenticated".
func (r *Reconciler) Sync(ctx context.Context, ext *models.ExternalIdentity) (*models.LocalUser, error) {
	user, err := r.store.FindUserByLightdashUUID(ctx, ext.UserUUID)
	if err == nil {
		return r.applySync(ctx, user.ID, ext)
	}
	var notFound *store.ErrNotFound
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("lookup user %s: %w", ext.UserUUID, err)
	}

	user, err = r.createFromIdentity(ctx, ext)
	if err == nil {
		return user, nil
	}
	// Lost a race: another request created the row first. Fall through to
	// update, same as a database unique-violation would be handled.
	var conflict *store.ErrConflict
	if errors.As(err, &conflict) {
		existing, findErr := r.store.FindUserByLightdashUUID(ctx, ext.UserUUID)
		if findErr != nil {
			return nil, fmt.Errorf("create user %s: %w", ext.UserUUID, err)
		}
		return r.applySync(ctx, existing.ID, ext)
	}
	return nil, err
}

func (r *Reconciler) applySync(ctx context.Context, id string, ext *models.ExternalIdentity) (*models.LocalUser, error) {
	name := ext.FullName()
	return r.store.UpdateUser(ctx, id, store.UserUpdate{
		Name:          &name,
		Email:         &ext.Email,
		LightdashUUID: &ext.UserUUID,
	})
}

func (r *Reconciler) createFromIdentity(ctx context.Context, ext *models.ExternalIdentity) (*models.LocalUser, error) {
	balance := r.balanceConfig(ctx)

	user := &models.LocalUser{
		ID:            uuid.New().String(),
		Name:          ext.FullName(),
		Username:      models.UsernameFromEmail(ext.Email),
		Email:         ext.Email,
		EmailVerified: true, // Lightdash-side verification is authoritative
		LightdashUUID: ext.UserUUID,
		Provider:      models.ProviderLightdash,
		Role:          models.RoleUser,
		TermsAccepted: true,
		TokenBalance:  balance.StartBalance,
		AutoRefill:    balance.AutoRefill,
	}

	if err := r.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	log.Info().
		Str("user", user.ID).
		Str("lightdash_uuid", ext.UserUUID).
		Msg("created local user from lightdash identity")
	return user, nil
}

// balanceConfig obtains the quota configuration for new users, tolerating
// collaborator unavailability by substituting an empty config.
func (r *Reconciler) balanceConfig(ctx context.Context) models.BalanceConfig {
	if r.balance == nil {
		return models.BalanceConfig{}
	}
	cfg, err := r.balance.BalanceConfig(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("balance config unavailable, using defaults")
		return models.BalanceConfig{}
	}
	return cfg
}

// ── Inbound push ────────────────────────────────────────────

// PushRequest is the payload of the sync-user-from-lightdash endpoint,
// sent by Lightdash when a user registers there.
type PushRequest struct {
	LightdashUUID string `json:"lightdashUuid"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Username      string `json:"username,omitempty"`
}

// Validate checks the required push fields.
func (p PushRequest) Validate() error {
	if p.LightdashUUID == "" || p.Email == "" {
		return errors.New("missing required fields: lightdashUuid and email")
	}
	return nil
}

// Upsert applies an inbound push: matches on LightdashUUID first, then on
// email (a pre-existing local account adopts the uuid), and creates the
// user when neither matches. Returns created=true only for a fresh row.
func (r *Reconciler) Upsert(ctx context.Context, push PushRequest) (*models.LocalUser, bool, error) {
	existing, err := r.findPushTarget(ctx, push)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		upd := store.UserUpdate{
			Email:         &push.Email,
			LightdashUUID: &push.LightdashUUID,
		}
		if push.Name != "" {
			upd.Name = &push.Name
		}
		user, err := r.store.UpdateUser(ctx, existing.ID, upd)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	username := push.Username
	if username == "" {
		username = models.UsernameFromEmail(push.Email)
	}
	balance := r.balanceConfig(ctx)
	user := &models.LocalUser{
		ID:            uuid.New().String(),
		Name:          push.Name,
		Username:      username,
		Email:         push.Email,
		EmailVerified: true,
		LightdashUUID: push.LightdashUUID,
		Provider:      models.ProviderLightdash,
		Role:          models.RoleUser,
		TermsAccepted: true,
		TokenBalance:  balance.StartBalance,
		AutoRefill:    balance.AutoRefill,
	}
	if err := r.store.CreateUser(ctx, user); err != nil {
		var conflict *store.ErrConflict
		if errors.As(err, &conflict) {
			// Concurrent push with the same uuid: the loser observes the
			// row and reports an update.
			winner, findErr := r.findPushTarget(ctx, push)
			if findErr != nil || winner == nil {
				return nil, false, err
			}
			user, updErr := r.store.UpdateUser(ctx, winner.ID, store.UserUpdate{
				Email:         &push.Email,
				LightdashUUID: &push.LightdashUUID,
			})
			if updErr != nil {
				return nil, false, updErr
			}
			return user, false, nil
		}
		return nil, false, err
	}

	log.Info().
		Str("user", user.ID).
		Str("lightdash_uuid", push.LightdashUUID).
		Msg("created local user from lightdash push")
	return user, true, nil
}

func (r *Reconciler) findPushTarget(ctx context.Context, push PushRequest) (*models.LocalUser, error) {
	user, err := r.store.FindUserByLightdashUUID(ctx, push.LightdashUUID)
	if err == nil {
		return user, nil
	}
	var notFound *store.ErrNotFound
	if !errors.As(err, &notFound) {
		return nil, err
	}
	user, err = r.store.FindUserByEmail(ctx, push.Email)
	if err == nil {
		return user, nil
	}
	if !errors.As(err, &notFound) {
		return nil, err
	}
	return nil, nil
}
