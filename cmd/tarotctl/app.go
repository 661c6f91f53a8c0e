package main

import (
	"context"

	"github.com/Arsenji/tarot-client/internal/auth"
	"github.com/Arsenji/tarot-client/internal/config"
	"github.com/Arsenji/tarot-client/internal/logging"
	"github.com/Arsenji/tarot-client/internal/readings"
	"github.com/Arsenji/tarot-client/internal/storage"
	"github.com/Arsenji/tarot-client/internal/subscription"
	"github.com/Arsenji/tarot-client/internal/telegram"
	"github.com/Arsenji/tarot-client/pkg/tarotapi"
)

// app wires the client core the same way the mini-app does at startup:
// one store, one backend client, one auth state, one subscription state.
type app struct {
	cfg      *config.Config
	store    storage.Store
	client   *tarotapi.Client
	auth     *auth.State
	sub      *subscription.State
	readings *readings.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "tarotctl",
	})

	store, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}

	// The client needs a token provider and the auth state needs the
	// client; the closure reads the auth state late, after both exist.
	var authState *auth.State
	client := tarotapi.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, func() string {
		if authState == nil {
			return ""
		}
		return authState.TokenString()
	})

	launch := func() (telegram.LaunchContext, error) {
		return telegram.Resolve(cfg.InitData)
	}
	authState = auth.NewState(store, client, launch)

	subState := subscription.NewState(store, client, authState.TokenString,
		subscription.WithReauth(authState.Reauthenticate))

	return &app{
		cfg:      cfg,
		store:    store,
		client:   client,
		auth:     authState,
		sub:      subState,
		readings: readings.NewService(client, subState.Availability),
	}, nil
}

// bootstrap runs the auth bootstrap and then the subscription bootstrap,
// which self-gates on credential availability.
func (a *app) bootstrap(ctx context.Context) {
	_ = a.auth.Bootstrap(ctx)
	_ = a.sub.Bootstrap(ctx)
}

func (a *app) close() {
	_ = a.store.Close()
}
