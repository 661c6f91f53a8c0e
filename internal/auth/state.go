package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Arsenji/tarot-client/internal/storage"
	"github.com/Arsenji/tarot-client/internal/telegram"
	"github.com/Arsenji/tarot-client/pkg/tarotapi"
)

// Error reasons surfaced on the snapshot. Observability only; callers gate
// on IsAuthenticated, never on the reason text.
const (
	ReasonNoLaunchContext = "NO_LAUNCH_CONTEXT"
	ReasonAuthFailed      = "AUTH_FAILED"
)

// API is the slice of the backend client the auth state needs.
type API interface {
	AuthTelegram(ctx context.Context, initData string) (tarotapi.AuthResult, error)
}

// LaunchSource resolves the current Telegram launch context. Absence must be
// reported as telegram.ErrNoLaunchContext, not as a fatal error.
type LaunchSource func() (telegram.LaunchContext, error)

// Snapshot is an immutable view of the auth state.
type Snapshot struct {
	Loading         bool
	Ready           bool
	IsAuthenticated bool
	Token           string
	Error           string
}

// State resolves and caches a bearer credential for the active Telegram
// identity. Reads are synchronous; the bootstrap is the only writer and is
// single-flight.
type State struct {
	store  storage.Store
	api    API
	launch LaunchSource
	now    func() time.Time
	log    zerolog.Logger

	flight singleflight.Group

	mu        sync.RWMutex
	snap      Snapshot
	listeners map[int]func()
	nextID    int
}

// Option customizes a State.
type Option func(*State)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// NewState creates an auth state backed by the given store and backend client.
func NewState(store storage.Store, api API, launch LaunchSource, opts ...Option) *State {
	s := &State{
		store:     store,
		api:       api,
		launch:    launch,
		now:       time.Now,
		log:       log.With().Str("component", "auth").Logger(),
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Subscribe registers a listener invoked after every state change. The
// returned function removes it.
func (s *State) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *State) setState(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	listeners := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// activeUserID returns the current Telegram identity, or zero when running
// outside Telegram.
func (s *State) activeUserID() int64 {
	lc, err := s.launch()
	if err != nil {
		return 0
	}
	return lc.UserID
}

// GetAccessTokenSync returns the cached credential if it is unexpired and
// belongs to the active identity. It never touches the network. A stale or
// mismatched credential is deleted so the next bootstrap re-acquires one.
func (s *State) GetAccessTokenSync() *Credential {
	cred, ok := loadCredential(s.store)
	if !ok {
		return nil
	}
	if !cred.Valid(s.now(), s.activeUserID()) {
		s.log.Debug().Int64("cached_user", cred.UserID).Msg("Discarding cached credential")
		clearCredential(s.store)
		return nil
	}
	return &cred
}

// TokenString is GetAccessTokenSync flattened for use as a tarotapi token
// provider.
func (s *State) TokenString() string {
	if cred := s.GetAccessTokenSync(); cred != nil {
		return cred.Token
	}
	return ""
}

// Bootstrap resolves a credential: cached if still valid, otherwise acquired
// by exchanging the Telegram launch payload. Concurrent calls share one
// in-flight attempt. Readiness is always reached, with or without a token;
// failures surface as snapshot flags, never as panics. The returned error is
// informational.
func (s *State) Bootstrap(ctx context.Context) error {
	// Ready with a still-valid credential: nothing to do. A ready state
	// without a valid credential stays re-enterable so an identity change
	// or late-arriving launch context can recover.
	if snap := s.Snapshot(); snap.Ready && s.GetAccessTokenSync() != nil {
		return nil
	}

	_, err, _ := s.flight.Do("bootstrap", func() (any, error) {
		s.run(ctx)
		return nil, nil
	})
	return err
}

// Reauthenticate discards the cached credential and runs a fresh exchange.
// Used when the backend rejects the current token.
func (s *State) Reauthenticate(ctx context.Context) error {
	clearCredential(s.store)
	_, err, _ := s.flight.Do("bootstrap", func() (any, error) {
		s.run(ctx)
		return nil, nil
	})
	return err
}

func (s *State) run(ctx context.Context) {
	s.setState(func(snap *Snapshot) {
		snap.Loading = true
	})

	lc, launchErr := s.launch()
	if launchErr != nil && launchErr != telegram.ErrNoLaunchContext {
		// Host integration failure is non-fatal; the app runs standalone.
		s.log.Debug().Err(launchErr).Msg("Launch context unavailable")
	}

	if cred := s.GetAccessTokenSync(); cred != nil {
		s.log.Debug().Msg("Reusing cached credential")
		s.finish(cred.Token, "")
		return
	}

	if lc.InitData == "" {
		s.finish("", ReasonNoLaunchContext)
		return
	}

	result, err := s.api.AuthTelegram(ctx, lc.InitData)
	if err != nil {
		s.log.Warn().Err(err).Msg("Telegram auth exchange failed")
		s.finish("", ReasonAuthFailed)
		return
	}
	if result.ExpiresAtMs <= 0 {
		// A token without a recorded expiry would be judged invalid by the
		// synchronous getter on the next read, so treat it as no token.
		s.finish("", ReasonAuthFailed)
		return
	}

	cred := Credential{
		Token:     result.Token,
		ExpiresAt: time.UnixMilli(result.ExpiresAtMs),
		UserID:    lc.UserID,
	}
	if err := persistCredential(s.store, cred); err != nil {
		s.log.Warn().Err(err).Msg("Unable to persist credential")
	}
	s.log.Info().Msg("Credential acquired")
	s.finish(cred.Token, "")
}

func (s *State) finish(token, reason string) {
	s.setState(func(snap *Snapshot) {
		snap.Loading = false
		snap.Ready = true
		snap.Token = token
		snap.IsAuthenticated = token != ""
		snap.Error = reason
	})
}
