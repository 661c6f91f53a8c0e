package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Arsenji/tarot-client/internal/storage"
	"github.com/Arsenji/tarot-client/pkg/tarotapi"
)

// API is the slice of the backend client the subscription state needs.
type API interface {
	SubscriptionStatus(ctx context.Context) (*tarotapi.Entitlements, error)
}

// TokenSource supplies the current bearer token synchronously, or "" when
// none is held. Injected rather than imported so tests can substitute it.
type TokenSource func() string

// Reauth re-acquires a credential after a 401. Optional; when nil a 401 is
// a plain failure.
type Reauth func(ctx context.Context) error

// Snapshot is an immutable view of the subscription state.
type Snapshot struct {
	// IsLoaded is true once a bootstrap attempt has concluded, successful
	// or not. Only a concluded network attempt sets it; cache hydration
	// never does.
	IsLoaded bool
	Loading  bool
	// Error holds the failure reason of the last attempt. While set, every
	// availability query denies, even though IsLoaded is true: loaded for
	// display, denied for gating.
	Error string

	Entitlements tarotapi.Entitlements

	// CooldownEndsAt holds absolute unlock deadlines, derived once at
	// snapshot acceptance.
	CooldownEndsAt map[Feature]time.Time

	// HasCooldownInfo records whether the accepted snapshot carried a
	// cooldowns block. Distinguishes "no cooldown pending" from "snapshot
	// predates cooldown reporting", which fall back differently.
	HasCooldownInfo bool
}

// State is the single arbiter of "can the user start reading X right now".
// It is mutated only by Bootstrap and read everywhere else.
type State struct {
	store  storage.Store
	api    API
	tokens TokenSource
	reauth Reauth
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

// WithReauth installs the re-authentication capability used on 401.
func WithReauth(reauth Reauth) Option {
	return func(s *State) { s.reauth = reauth }
}

// statusCache is the persisted {receipt timestamp, snapshot} pair.
type statusCache struct {
	TS               int64                 `json:"ts"`
	SubscriptionInfo tarotapi.Entitlements `json:"subscriptionInfo"`
}

// NewState creates the subscription state, pre-hydrated speculatively from
// the local cache when one exists. Hydration never marks the state loaded;
// only a network resolution does.
func NewState(store storage.Store, api API, tokens TokenSource, opts ...Option) *State {
	s := &State{
		store:     store,
		api:       api,
		tokens:    tokens,
		now:       time.Now,
		log:       log.With().Str("component", "subscription").Logger(),
		listeners: make(map[int]func()),
		snap: Snapshot{
			Entitlements: LockedDefault(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hydrateFromCache()
	return s
}

func (s *State) hydrateFromCache() {
	raw, ok, err := s.store.Get(storage.KeyStatusCache)
	if err != nil || !ok {
		return
	}
	var cached statusCache
	if err := json.Unmarshal([]byte(raw), &cached); err != nil || cached.TS <= 0 {
		return
	}
	receivedAt := time.UnixMilli(cached.TS)
	s.snap.Entitlements = cached.SubscriptionInfo
	s.snap.CooldownEndsAt = deriveCooldowns(cached.SubscriptionInfo, receivedAt)
	s.snap.HasCooldownInfo = cached.SubscriptionInfo.Cooldowns != nil
	s.log.Debug().Time("cached_at", receivedAt).Msg("Hydrated entitlements from local cache")
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

// Bootstrap fetches the entitlement snapshot. It self-gates on credential
// availability: without a token it returns immediately, leaving the state
// unloaded (fail-locked) and safely re-invocable later. Concurrent calls
// share one in-flight request. No retries are scheduled on failure; a failed
// bootstrap leaves the system locked until something calls it again. The
// returned error is informational; gating reads the state flags.
func (s *State) Bootstrap(ctx context.Context) error {
	if s.tokens() == "" {
		s.log.Debug().Msg("Subscription bootstrap skipped: no credential yet")
		return nil
	}

	_, err, _ := s.flight.Do("bootstrap", func() (any, error) {
		return nil, s.run(ctx)
	})
	return err
}

func (s *State) run(ctx context.Context) error {
	s.setState(func(snap *Snapshot) {
		snap.Loading = true
	})

	info, err := s.fetchWithReauth(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Subscription status load failed; staying locked")
		s.setState(func(snap *Snapshot) {
			snap.Entitlements = LockedDefault()
			snap.CooldownEndsAt = nil
			snap.HasCooldownInfo = false
			snap.Error = err.Error()
			// Loaded even on failure so the UI settles into its locked
			// rendering instead of spinning; gating still denies on Error.
			snap.IsLoaded = true
			snap.Loading = false
		})
		return err
	}

	receivedAt := s.now()
	s.persistCache(*info, receivedAt)
	ends := deriveCooldowns(*info, receivedAt)
	s.setState(func(snap *Snapshot) {
		snap.Entitlements = *info
		snap.CooldownEndsAt = ends
		snap.HasCooldownInfo = info.Cooldowns != nil
		snap.Error = ""
		snap.IsLoaded = true
		snap.Loading = false
	})
	s.log.Info().Bool("has_subscription", info.HasSubscription).Msg("Subscription status loaded")
	return nil
}

// fetchWithReauth performs the status request with at most one
// re-authentication retry on 401. A second 401 is a hard failure for this
// bootstrap cycle.
func (s *State) fetchWithReauth(ctx context.Context) (*tarotapi.Entitlements, error) {
	info, err := s.api.SubscriptionStatus(ctx)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, tarotapi.ErrUnauthorized) || s.reauth == nil {
		return nil, err
	}

	s.log.Debug().Msg("Status request rejected; re-authenticating once")
	if reauthErr := s.reauth(ctx); reauthErr != nil {
		return nil, err
	}
	if s.tokens() == "" {
		return nil, err
	}
	return s.api.SubscriptionStatus(ctx)
}

func (s *State) persistCache(info tarotapi.Entitlements, receivedAt time.Time) {
	raw, err := json.Marshal(statusCache{TS: receivedAt.UnixMilli(), SubscriptionInfo: info})
	if err != nil {
		return
	}
	if err := s.store.Set(storage.KeyStatusCache, string(raw)); err != nil {
		s.log.Warn().Err(err).Msg("Unable to persist status cache")
	}
}

// Availability answers whether the feature is usable right now. Pure and
// synchronous: it reads only in-memory state.
//
// Remaining-use counters deliberately play no part for free users: the
// product rule is one use per rolling 24h window, a purely time-based rule,
// and a stale counter must never override the cooldown.
func (s *State) Availability(feature Feature) Availability {
	snap := s.Snapshot()

	// Unknown or stale status denies.
	if !snap.IsLoaded || snap.Loading || snap.Error != "" {
		return Availability{}
	}

	info := snap.Entitlements
	if info.HasSubscription {
		return Availability{Allowed: true}
	}

	// First free use is always open.
	if !freeUseConsumed(info, feature) {
		return Availability{Allowed: true}
	}

	if snap.HasCooldownInfo {
		if end, ok := snap.CooldownEndsAt[feature]; ok && s.now().Before(end) {
			return Availability{NextAvailableAt: &end}
		}
		return Availability{Allowed: true}
	}

	// Degraded fallbacks for snapshots without cooldown timestamps: the
	// coarser server-computed boolean, then any still-present relative
	// value, then deny with no deadline.
	if canUse(info, feature) {
		return Availability{Allowed: true}
	}
	if ms := cooldownMsRemaining(info, feature); ms > 0 {
		end := s.now().Add(time.Duration(ms) * time.Millisecond)
		return Availability{NextAvailableAt: &end}
	}
	return Availability{}
}
