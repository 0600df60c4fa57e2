// Package credentials implements the per-session credential aggregation and
// the propagation sink that installs aggregated secrets into the per-user
// integration-credential store.
package credentials

import (
	"context"
	"strings"

	"github.com/bratrax/chatbridge/internal/idp"
	"github.com/bratrax/chatbridge/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// IntegrationLightdash names the bundle entry carrying the user's generic
// Lightdash API key and project linkage.
const IntegrationLightdash = "lightdash"

// accountQualifierSep joins an account id with its parent-account qualifier
// (customer_manager_id) into one account token: "123:456".
const accountQualifierSep = ":"

// accountListSep joins the account tokens of one platform.
const accountListSep = ","

// IdPCredentialSource is the slice of the Lightdash client the aggregator
// consumes.
type IdPCredentialSource interface {
	FetchMCPCredentials(ctx context.Context, cookie string) (*idp.MCPCredentials, error)
	FetchPlatformCredentials(ctx context.Context, cookie string) (idp.PlatformCredentials, error)
}

// Aggregator fans out over the IdP-side credential endpoints and merges
// their contributions into a single bundle.
//
// Aggregation is best-effort per source: a source that fails or returns a
// malformed shape contributes nothing, and no source's failure aborts the
// others. The fan-out shares no mutable state; each fetch writes its own
// result variable and the merge happens after the join.
type Aggregator struct {
	source IdPCredentialSource
}

// NewAggregator creates an aggregator over the given credential source.
func NewAggregator(source IdPCredentialSource) *Aggregator {
	return &Aggregator{source: source}
}

// Fetch aggregates all credential sources for the session identified by the
// forwarded cookies. Never returns an error: a fully failed aggregation is
// an empty bundle.
func (a *Aggregator) Fetch(ctx context.Context, cookie string) models.CredentialBundle {
	var (
		mcp       *idp.MCPCredentials
		platforms idp.PlatformCredentials
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		creds, err := a.source.FetchMCPCredentials(ctx, cookie)
		if err != nil {
			log.Warn().Err(err).Msg("mcp credentials unavailable, skipping")
			return nil
		}
		mcp = creds
		return nil
	})
	g.Go(func() error {
		creds, err := a.source.FetchPlatformCredentials(ctx, cookie)
		if err != nil {
			log.Warn().Err(err).Msg("platform credentials unavailable, skipping")
			return nil
		}
		platforms = creds
		return nil
	})
	// Sources absorb their own failures, so Wait cannot fail.
	_ = g.Wait()

	bundle := make(models.CredentialBundle)
	if mcp != nil && mcp.APIKey != "" {
		bundle[IntegrationLightdash] = models.IntegrationCredential{
			Identifiers: mcp.ProjectUUID,
			Token:       mcp.APIKey,
		}
	}
	for platform, accounts := range platforms {
		cred := reduceAccounts(accounts)
		if !cred.Empty() {
			bundle[platform] = cred
		}
	}
	return bundle
}

// reduceAccounts merges a platform's account records into one credential:
// each record yields "account_id" or "account_id:customer_manager_id", the
// tokens are comma-joined, and the first non-empty secret wins.
func reduceAccounts(accounts []idp.AccountRecord) models.IntegrationCredential {
	ids := make([]string, 0, len(accounts))
	token := ""
	for _, acct := range accounts {
		if acct.AccountID == "" {
			continue
		}
		id := acct.AccountID
		if acct.CustomerManagerID != "" {
			id += accountQualifierSep + acct.CustomerManagerID
		}
		ids = append(ids, id)
		if token == "" {
			token = acct.Token
		}
	}
	return models.IntegrationCredential{
		Identifiers: strings.Join(ids, accountListSep),
		Token:       token,
	}
}
