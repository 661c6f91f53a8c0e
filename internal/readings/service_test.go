package readings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arsenji/tarot-client/internal/subscription"
	"github.com/Arsenji/tarot-client/pkg/tarotapi"
)

type fakeReadingsAPI struct {
	historyCalls int32
	historyErr   error
	history      []tarotapi.HistoryEntry

	dailyCalls int32
	yesNoCalls int32
	threeCalls int32
}

func (f *fakeReadingsAPI) DailyAdvice(ctx context.Context) (*tarotapi.DailyAdvice, error) {
	atomic.AddInt32(&f.dailyCalls, 1)
	return &tarotapi.DailyAdvice{Advice: "rest"}, nil
}

func (f *fakeReadingsAPI) YesNo(ctx context.Context, question string) (*tarotapi.YesNoReading, error) {
	atomic.AddInt32(&f.yesNoCalls, 1)
	return &tarotapi.YesNoReading{Question: question, Answer: "yes"}, nil
}

func (f *fakeReadingsAPI) ThreeCards(ctx context.Context, category, userQuestion string) (*tarotapi.ThreeCardsReading, error) {
	atomic.AddInt32(&f.threeCalls, 1)
	return &tarotapi.ThreeCardsReading{Category: category}, nil
}

func (f *fakeReadingsAPI) ClarifyingAnswer(ctx context.Context, req tarotapi.ClarifyingRequest) (*tarotapi.ClarifyingAnswer, error) {
	return &tarotapi.ClarifyingAnswer{Answer: "maybe"}, nil
}

func (f *fakeReadingsAPI) CardDetails(ctx context.Context, cardName, category string) (string, error) {
	return "details for " + cardName, nil
}

func (f *fakeReadingsAPI) History(ctx context.Context) ([]tarotapi.HistoryEntry, error) {
	atomic.AddInt32(&f.historyCalls, 1)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func allowAll(subscription.Feature) subscription.Availability {
	return subscription.Availability{Allowed: true}
}

func denyAll(next *time.Time) Gate {
	return func(subscription.Feature) subscription.Availability {
		return subscription.Availability{NextAvailableAt: next}
	}
}

func TestDaily_DeniedLocally(t *testing.T) {
	api := &fakeReadingsAPI{}
	next := time.Now().Add(time.Hour)
	s := NewService(api, denyAll(&next))

	_, err := s.Daily(context.Background())
	require.ErrorIs(t, err, ErrLocked)

	var lockErr *LockedError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, subscription.FeatureDaily, lockErr.Feature)
	require.NotNil(t, lockErr.NextAvailableAt)
	assert.Equal(t, next, *lockErr.NextAvailableAt)

	assert.Zero(t, atomic.LoadInt32(&api.dailyCalls), "locked readings must not reach the network")
}

func TestGatedReadings_AllowedPassThrough(t *testing.T) {
	api := &fakeReadingsAPI{}
	s := NewService(api, allowAll)

	daily, err := s.Daily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rest", daily.Advice)

	yn, err := s.YesNo(context.Background(), "will it rain")
	require.NoError(t, err)
	assert.Equal(t, "yes", yn.Answer)

	three, err := s.ThreeCards(context.Background(), "love", "")
	require.NoError(t, err)
	assert.Equal(t, "love", three.Category)
}

func TestYesNoAndThreeCards_Denied(t *testing.T) {
	api := &fakeReadingsAPI{}
	s := NewService(api, denyAll(nil))

	_, err := s.YesNo(context.Background(), "q")
	assert.ErrorIs(t, err, ErrLocked)
	_, err = s.ThreeCards(context.Background(), "career", "q")
	assert.ErrorIs(t, err, ErrLocked)
	assert.Zero(t, atomic.LoadInt32(&api.yesNoCalls))
	assert.Zero(t, atomic.LoadInt32(&api.threeCalls))
}

func TestClarify_NotGated(t *testing.T) {
	api := &fakeReadingsAPI{}
	s := NewService(api, denyAll(nil))

	ans, err := s.Clarify(context.Background(), tarotapi.ClarifyingRequest{Question: "why"})
	require.NoError(t, err)
	assert.Equal(t, "maybe", ans.Answer)
}

func TestHistory_CachedWithinTTL(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }
	api := &fakeReadingsAPI{history: []tarotapi.HistoryEntry{{ReadingID: "r1"}}}
	s := NewService(api, allowAll, WithClock(clock))

	first, err := s.History(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = s.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.historyCalls), "second call served from cache")
}

func TestHistory_RefetchedAfterTTL(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	api := &fakeReadingsAPI{history: []tarotapi.HistoryEntry{{ReadingID: "r1"}}}
	s := NewService(api, allowAll, WithClock(func() time.Time { return now }))

	_, err := s.History(context.Background())
	require.NoError(t, err)

	now = now.Add(historyTTL + time.Second)
	_, err = s.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&api.historyCalls))
}

func TestHistory_PaywallDropsCache(t *testing.T) {
	api := &fakeReadingsAPI{history: []tarotapi.HistoryEntry{{ReadingID: "r1"}}}
	s := NewService(api, allowAll)

	_, err := s.History(context.Background())
	require.NoError(t, err)

	api.historyErr = &tarotapi.SubscriptionRequiredError{Message: "paywall"}
	s.InvalidateHistory()
	_, err = s.History(context.Background())
	var subErr *tarotapi.SubscriptionRequiredError
	require.ErrorAs(t, err, &subErr)

	// Cache is gone: a later successful fetch hits the network again.
	api.historyErr = nil
	_, err = s.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&api.historyCalls))
}

func TestHistory_PlainErrorKeepsNothingCached(t *testing.T) {
	api := &fakeReadingsAPI{historyErr: errors.New("backend down")}
	s := NewService(api, allowAll)

	_, err := s.History(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}
