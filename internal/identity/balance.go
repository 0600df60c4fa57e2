package identity

import (
	"context"

	"github.com/bratrax/chatbridge/pkg/models"
)

// StaticBalance is a BalanceProvider backed by process configuration.
// Deployments where the chat application computes balances remotely swap
// this for a remote implementation; the reconciler tolerates either one
// failing.
type StaticBalance struct {
	Config models.BalanceConfig
}

// BalanceConfig returns the configured quota settings.
func (s StaticBalance) BalanceConfig(_ context.Context) (models.BalanceConfig, error) {
	return s.Config, nil
}
