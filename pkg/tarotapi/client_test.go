package tarotapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, func() string { return "test-token" })
}

func TestAuthTelegram_FlatResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/telegram", r.URL.Path)
		// Unauthenticated endpoint: no bearer header expected.
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"token":"jwt-1","expires":1700000000}`))
	})

	res, err := c.AuthTelegram(context.Background(), "user_id=1")
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", res.Token)
	// Seconds-magnitude expiry must be normalized to ms.
	assert.Equal(t, int64(1700000000000), res.ExpiresAtMs)
}

func TestAuthTelegram_NestedDataAndStringExpiry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"token":"jwt-2","expires":"1700000000123"}}`))
	})

	res, err := c.AuthTelegram(context.Background(), "user_id=1")
	require.NoError(t, err)
	assert.Equal(t, "jwt-2", res.Token)
	assert.Equal(t, int64(1700000000123), res.ExpiresAtMs)
}

func TestAuthTelegram_MissingToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{}}`))
	})

	_, err := c.AuthTelegram(context.Background(), "user_id=1")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSubscriptionStatus_TopLevelInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Write([]byte(`{"subscriptionInfo":{"hasSubscription":true,"canUseYesNo":true}}`))
	})

	info, err := c.SubscriptionStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, info.HasSubscription)
	assert.True(t, info.CanUseYesNo)
}

func TestSubscriptionStatus_NestedUnderData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"subscriptionInfo":{"hasSubscription":false,"freeDailyAdviceUsed":true,"cooldowns":{"dailyAdviceMsRemaining":3600000}}}}`))
	})

	info, err := c.SubscriptionStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, info.HasSubscription)
	assert.True(t, info.FreeDailyAdviceUsed)
	require.NotNil(t, info.Cooldowns)
	assert.Equal(t, int64(3600000), info.Cooldowns.DailyAdviceMsRemaining)
}

func TestSubscriptionStatus_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"token expired"}`))
	})

	_, err := c.SubscriptionStatus(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestSubscriptionStatus_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>cold start</html>`))
	})

	_, err := c.SubscriptionStatus(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestHistory_SubscriptionRequired(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"error":"paywall","subscriptionRequired":true,"subscriptionInfo":{"hasSubscription":false}}`))
	})

	_, err := c.History(context.Background())
	var subErr *SubscriptionRequiredError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "paywall", subErr.Message)
	require.NotNil(t, subErr.Info)
	assert.False(t, subErr.Info.HasSubscription)
}

func TestRegisterUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req tarotUserReq
		require.NoError(t, jsonDecode(r, &req))
		assert.Equal(t, int64(42), req.TelegramID)
		assert.Equal(t, "Ada", req.FirstName)
		w.Write([]byte(`{"subscriptionInfo":{"hasSubscription":false,"canUseDailyAdvice":true}}`))
	})

	info, err := c.RegisterUser(context.Background(), UserRegistration{TelegramID: 42, FirstName: "Ada"})
	require.NoError(t, err)
	assert.True(t, info.CanUseDailyAdvice)
}

type tarotUserReq struct {
	TelegramID int64  `json:"telegramId"`
	FirstName  string `json:"firstName"`
}

func TestDailyAdvice_NestedEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"success":true,"data":{"advice":"rest","card":{"name":"The Star","suit":"major","isMajorArcana":true}}}`))
	})

	advice, err := c.DailyAdvice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rest", advice.Advice)
	assert.Equal(t, "The Star", advice.Card.Name)
}

func TestYesNo_SendsQuestion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, jsonDecode(r, &req))
		assert.Equal(t, "will it rain", req["question"])
		w.Write([]byte(`{"readingId":"r1","question":"will it rain","answer":"yes","interpretation":"...","card":{"name":"The Sun"}}`))
	})

	reading, err := c.YesNo(context.Background(), "will it rain")
	require.NoError(t, err)
	assert.Equal(t, "r1", reading.ReadingID)
	assert.Equal(t, "yes", reading.Answer)
}

func TestDo_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 20*time.Millisecond, nil)
	_, err := c.SubscriptionStatus(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestDo_ConnectionRefused(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, nil)
	_, err := c.SubscriptionStatus(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestNormalizeEpochMs(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{name: "seconds", in: 1700000000, want: 1700000000000},
		{name: "milliseconds", in: 1700000000000, want: 1700000000000},
		{name: "zero", in: 0, want: 0},
		{name: "negative", in: -5, want: 0},
		{name: "boundary_below", in: 999_999_999_999, want: 999_999_999_999_000},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeEpochMs(tt.in); got != tt.want {
				t.Fatalf("NormalizeEpochMs(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestAPIError_Is(t *testing.T) {
	authErr := &APIError{Type: ErrorTypeAuth, Op: "x", Err: errors.New("denied")}
	assert.ErrorIs(t, authErr, ErrUnauthorized)
	assert.NotErrorIs(t, authErr, ErrTimeout)

	timeoutErr := &APIError{Type: ErrorTypeTimeout, Op: "x", Err: errors.New("deadline")}
	assert.ErrorIs(t, timeoutErr, ErrTimeout)
	assert.ErrorIs(t, timeoutErr, ErrConnectionFailed)
}

func jsonDecode(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
