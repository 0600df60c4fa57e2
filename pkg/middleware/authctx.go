// Package middleware provides shared context helpers for the chatbridge
// auth pipeline.
//
// This package lives in pkg/ (not internal/) so that embedding applications
// can read the resolved user from the request context in their own handlers.
package middleware

import (
	"context"

	"github.com/bratrax/chatbridge/pkg/models"
)

type contextKey string

const (
	userKey     contextKey = "user"
	identityKey contextKey = "lightdash_identity"
)

// SetUser stores the resolved local user in the context.
// Called by the auth dispatcher after successful authentication.
func SetUser(ctx context.Context, user *models.LocalUser) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userKey, user)
}

// GetUser retrieves the resolved local user from the context.
// Returns nil for anonymous requests (optional dispatch with no session).
func GetUser(ctx context.Context) *models.LocalUser {
	if v, ok := ctx.Value(userKey).(*models.LocalUser); ok {
		return v
	}
	return nil
}

// SetExternalIdentity stores the raw Lightdash identity in the context.
// Only set when the request was authenticated via the external path.
func SetExternalIdentity(ctx context.Context, id *models.ExternalIdentity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, id)
}

// GetExternalIdentity retrieves the raw Lightdash identity from the context.
// Returns nil when the request was authenticated locally, or not at all.
func GetExternalIdentity(ctx context.Context) *models.ExternalIdentity {
	if v, ok := ctx.Value(identityKey).(*models.ExternalIdentity); ok {
		return v
	}
	return nil
}
