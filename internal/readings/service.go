package readings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Arsenji/tarot-client/internal/subscription"
	"github.com/Arsenji/tarot-client/pkg/tarotapi"
)

// historyTTL bounds how long a fetched history list is served from memory.
const historyTTL = 5 * time.Minute

// ErrLocked marks a reading refused by the local availability gate.
var ErrLocked = errors.New("reading is locked")

// LockedError reports which feature was locked and, when known, when it
// unlocks.
type LockedError struct {
	Feature         subscription.Feature
	NextAvailableAt *time.Time
}

func (e *LockedError) Error() string {
	if e.NextAvailableAt != nil {
		return fmt.Sprintf("%s is locked until %s", e.Feature, e.NextAvailableAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s is locked", e.Feature)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// API is the slice of the backend client the reading service needs.
type API interface {
	DailyAdvice(ctx context.Context) (*tarotapi.DailyAdvice, error)
	YesNo(ctx context.Context, question string) (*tarotapi.YesNoReading, error)
	ThreeCards(ctx context.Context, category, userQuestion string) (*tarotapi.ThreeCardsReading, error)
	ClarifyingAnswer(ctx context.Context, req tarotapi.ClarifyingRequest) (*tarotapi.ClarifyingAnswer, error)
	CardDetails(ctx context.Context, cardName, category string) (string, error)
	History(ctx context.Context) ([]tarotapi.HistoryEntry, error)
}

// Gate answers the synchronous availability query for a feature.
type Gate func(subscription.Feature) subscription.Availability

// Service performs reading operations, refusing locally anything the
// availability gate denies so locked users never burn a network round-trip.
type Service struct {
	api  API
	gate Gate
	now  func() time.Time
	log  zerolog.Logger

	mu            sync.Mutex
	history       []tarotapi.HistoryEntry
	historyLoaded time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reading service gated by the given availability query.
func NewService(api API, gate Gate, opts ...Option) *Service {
	s := &Service{
		api:  api,
		gate: gate,
		now:  time.Now,
		log:  log.With().Str("component", "readings").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) checkGate(feature subscription.Feature) error {
	avail := s.gate(feature)
	if avail.Allowed {
		return nil
	}
	return &LockedError{Feature: feature, NextAvailableAt: avail.NextAvailableAt}
}

// Daily draws the daily one-card reading. Never cached: each draw is a
// fresh card.
func (s *Service) Daily(ctx context.Context) (*tarotapi.DailyAdvice, error) {
	if err := s.checkGate(subscription.FeatureDaily); err != nil {
		return nil, err
	}
	return s.api.DailyAdvice(ctx)
}

// YesNo answers a yes/no question.
func (s *Service) YesNo(ctx context.Context, question string) (*tarotapi.YesNoReading, error) {
	if err := s.checkGate(subscription.FeatureYesNo); err != nil {
		return nil, err
	}
	return s.api.YesNo(ctx, question)
}

// ThreeCards draws the three-card spread.
func (s *Service) ThreeCards(ctx context.Context, category, userQuestion string) (*tarotapi.ThreeCardsReading, error) {
	if err := s.checkGate(subscription.FeatureThreeCards); err != nil {
		return nil, err
	}
	return s.api.ThreeCards(ctx, category, userQuestion)
}

// Clarify asks a follow-up question about an existing reading. Follow-ups
// belong to the reading that produced them and are not gated separately.
func (s *Service) Clarify(ctx context.Context, req tarotapi.ClarifyingRequest) (*tarotapi.ClarifyingAnswer, error) {
	return s.api.ClarifyingAnswer(ctx, req)
}

// CardDetails fetches the detailed description of a card.
func (s *Service) CardDetails(ctx context.Context, cardName, category string) (string, error) {
	return s.api.CardDetails(ctx, cardName, category)
}

// History lists stored readings, served from memory within the TTL. A
// paywall rejection drops the cache so a lapsed subscriber cannot keep
// reading stale history.
func (s *Service) History(ctx context.Context) ([]tarotapi.HistoryEntry, error) {
	s.mu.Lock()
	if s.history != nil && s.now().Sub(s.historyLoaded) < historyTTL {
		cached := s.history
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	entries, err := s.api.History(ctx)
	if err != nil {
		var subErr *tarotapi.SubscriptionRequiredError
		if errors.As(err, &subErr) {
			s.mu.Lock()
			s.history = nil
			s.mu.Unlock()
			s.log.Debug().Msg("History cache dropped after paywall rejection")
		}
		return nil, err
	}

	s.mu.Lock()
	s.history = entries
	s.historyLoaded = s.now()
	s.mu.Unlock()
	return entries, nil
}

// InvalidateHistory drops the cached history list, e.g. after a new reading
// was stored.
func (s *Service) InvalidateHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}
