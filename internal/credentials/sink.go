package credentials

import (
	"context"

	"github.com/bratrax/chatbridge/internal/store"
	"github.com/bratrax/chatbridge/pkg/contracts"
	"github.com/bratrax/chatbridge/pkg/models"
	"github.com/rs/zerolog/log"
)

// Sink installs aggregated credentials into the per-user
// integration-credential store.
//
// Installs are idempotent upserts at the store boundary, so repeated
// triggering (UI re-renders, concurrent tabs) converges on the same state
// instead of relying on client-side deduplication. A failed integration is
// logged and does not roll back the others.
type Sink struct {
	store store.CredentialStore
}

// NewSink creates a propagation sink over the given credential store.
func NewSink(s store.CredentialStore) *Sink {
	return &Sink{store: s}
}

// Install writes every non-empty bundle entry for the user and reports the
// per-integration outcomes.
//
// Callers must only invoke this after both the local session and the
// external session have been confirmed in the same request; the HTTP
// handler re-validates the external session itself rather than trusting a
// client-asserted flag.
func (s *Sink) Install(ctx context.Context, userID string, bundle models.CredentialBundle) []contracts.InstallResult {
	results := make([]contracts.InstallResult, 0, len(bundle))
	for integration, cred := range bundle {
		if cred.Empty() {
			continue
		}
		result := contracts.InstallResult{Integration: integration}
		if err := s.store.UpsertCredential(ctx, userID, integration, cred); err != nil {
			result.Error = err.Error()
			log.Error().Err(err).
				Str("user", userID).
				Str("integration", integration).
				Msg("credential install failed")
		} else {
			result.Installed = true
			log.Info().
				Str("user", userID).
				Str("integration", integration).
				Msg("credential installed")
		}
		results = append(results, result)
	}
	return results
}
