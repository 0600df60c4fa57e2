// Package server provides the public entry point for initializing the
// chatbridge server.
//
// This package exists in pkg/ (not internal/) so that the chat application
// can embed the bridge and compose it with its own routes.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bratrax/chatbridge/internal/api"
	"github.com/bratrax/chatbridge/internal/api/handlers"
	"github.com/bratrax/chatbridge/internal/auth"
	"github.com/bratrax/chatbridge/internal/config"
	"github.com/bratrax/chatbridge/internal/credentials"
	"github.com/bratrax/chatbridge/internal/identity"
	"github.com/bratrax/chatbridge/internal/idp"
	"github.com/bratrax/chatbridge/internal/store"
	"github.com/bratrax/chatbridge/internal/telemetry"
	"github.com/bratrax/chatbridge/pkg/contracts"
	"github.com/bratrax/chatbridge/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized chatbridge components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store. Exposed so an embedding application can
	// share the user store with its own handlers.
	Store store.Store

	// Dispatcher is the per-request auth policy, exposed so embedding
	// applications can protect their own routes with Required/Optional.
	Dispatcher *auth.Dispatcher

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes the bridge from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the bridge with an explicit configuration.
func NewWithConfig(_ context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()

	idpClient := idp.NewClient(cfg.Lightdash.URL, cfg.Lightdash.Timeout)
	balance := identity.StaticBalance{Config: models.BalanceConfig{
		Enabled:      cfg.Balance.Enabled,
		StartBalance: cfg.Balance.StartBalance,
		AutoRefill:   cfg.Balance.AutoRefill,
	}}
	reconciler := identity.NewReconciler(dataStore, balance)
	tokens := auth.NewSessionTokenService(cfg.Session.JWTSecret, cfg.Session.Expiry, dataStore)
	aggregator := credentials.NewAggregator(idpClient)
	sink := credentials.NewSink(dataStore)

	// Without a JWT secret there is no local auth path: the dispatcher must
	// see a nil authenticator so an unavailable Lightdash surfaces as 503
	// instead of a misleading 401.
	var local contracts.LocalAuthenticator
	if tokens.Enabled() {
		local = tokens
	}

	dispatcher := auth.NewDispatcher(cfg.Lightdash.Enabled, idpClient, reconciler, local)

	h := &handlers.Handlers{
		Store:      dataStore,
		Config:     cfg,
		IdP:        idpClient,
		Reconciler: reconciler,
		Aggregator: aggregator,
		Sink:       sink,
		Tokens:     tokens,
	}
	router := api.NewRouter(cfg, h, dispatcher, local)

	log.Info().
		Bool("lightdash_enabled", cfg.Lightdash.Enabled).
		Str("lightdash_url", cfg.Lightdash.URL).
		Msg("chatbridge initialized")

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Dispatcher:   dispatcher,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
