package tarotapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TokenProvider supplies the current bearer token, or "" when none is held.
// It must be synchronous and must not trigger network activity.
type TokenProvider func() string

// Client communicates with the tarot backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	log        zerolog.Logger
}

// NewClient creates a backend client. tokens may be nil for unauthenticated use.
func NewClient(baseURL string, timeout time.Duration, tokens TokenProvider) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		log:        log.With().Str("component", "tarotapi").Logger(),
	}
}

// AuthTelegram exchanges the Telegram launch payload for a bearer token.
// The expiry is normalized to epoch milliseconds regardless of the unit the
// backend used.
func (c *Client) AuthTelegram(ctx context.Context, initData string) (AuthResult, error) {
	payload, err := c.do(ctx, http.MethodPost, "/api/auth/telegram", map[string]string{"initData": initData}, false)
	if err != nil {
		return AuthResult{}, err
	}

	type authBody struct {
		Token   string    `json:"token"`
		Expires flexInt64 `json:"expires"`
	}
	var body struct {
		authBody
		Data authBody `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return AuthResult{}, &APIError{Type: ErrorTypeMalformed, Op: "auth_telegram", Err: err}
	}
	token, expires := body.Token, body.Expires
	if token == "" {
		token, expires = body.Data.Token, body.Data.Expires
	}
	if token == "" {
		return AuthResult{}, &APIError{Type: ErrorTypeMalformed, Op: "auth_telegram", Err: fmt.Errorf("no token in response")}
	}
	return AuthResult{
		Token:       token,
		ExpiresAtMs: NormalizeEpochMs(int64(expires)),
	}, nil
}

// SubscriptionStatus fetches the current entitlement snapshot.
func (c *Client) SubscriptionStatus(ctx context.Context) (*Entitlements, error) {
	payload, err := c.do(ctx, http.MethodGet, "/api/tarot/subscription-status", nil, true)
	if err != nil {
		return nil, err
	}

	var body struct {
		SubscriptionInfo *Entitlements `json:"subscriptionInfo"`
		Data             struct {
			SubscriptionInfo *Entitlements `json:"subscriptionInfo"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: "subscription_status", Err: err}
	}
	info := body.SubscriptionInfo
	if info == nil {
		info = body.Data.SubscriptionInfo
	}
	if info == nil {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: "subscription_status", Err: fmt.Errorf("no subscriptionInfo in response")}
	}
	return info, nil
}

// DailyAdvice draws the daily one-card reading.
func (c *Client) DailyAdvice(ctx context.Context) (*DailyAdvice, error) {
	payload, err := c.do(ctx, http.MethodPost, "/api/tarot/daily-advice", nil, true)
	if err != nil {
		return nil, err
	}
	var out DailyAdvice
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: "daily_advice", Err: err}
	}
	return &out, nil
}

// YesNo answers a yes/no question with one card.
func (c *Client) YesNo(ctx context.Context, question string) (*YesNoReading, error) {
	payload, err := c.do(ctx, http.MethodPost, "/api/tarot/yes-no", map[string]string{"question": question}, true)
	if err != nil {
		return nil, err
	}
	var out YesNoReading
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: "yes_no", Err: err}
	}
	return &out, nil
}

// ThreeCards draws the three-card spread for a category, with an optional
// user question.
func (c *Client) ThreeCards(ctx context.Context, category, userQuestion string) (*ThreeCardsReading, error) {
	req := map[string]string{"category": category}
	if userQuestion != "" {
		req["userQuestion"] = userQuestion
	}
	payload, err := c.do(ctx, http.MethodPost, "/api/tarot/three-cards", req, true)
	if err != nil {
		return nil, err
	}
	var out ThreeCardsReading
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: "three_cards", Err: err}
	}
	return &out, nil
}

// ClarifyingAnswer asks a follow-up question about an existing reading.
func (c *Client) ClarifyingAnswer(ctx context.Context, req ClarifyingRequest) (*ClarifyingAnswer, error) {
	payload, err := c.do(ctx, http.MethodPost, "/api/tarot/clarifying-answer", req, true)
	if err != nil {
		return nil, err
	}
	var out ClarifyingAnswer
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: "clarifying_answer", Err: err}
	}
	return &out, nil
}

// CardDetails fetches the detailed description of a card for a category.
func (c *Client) CardDetails(ctx context.Context, cardName, category string) (string, error) {
	payload, err := c.do(ctx, http.MethodPost, "/api/tarot/card-details", map[string]string{
		"cardName": cardName,
		"category": category,
	}, true)
	if err != nil {
		return "", err
	}
	var out struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &APIError{Type: ErrorTypeMalformed, Op: "card_details", Err: err}
	}
	return out.Description, nil
}

// RegisterUser registers (or refreshes) the Telegram user with the backend
// and returns their current entitlements.
func (c *Client) RegisterUser(ctx context.Context, user UserRegistration) (*Entitlements, error) {
	payload, err := c.do(ctx, http.MethodPost, "/api/subscription/register", user, true)
	if err != nil {
		return nil, err
	}
	var body struct {
		SubscriptionInfo *Entitlements `json:"subscriptionInfo"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.SubscriptionInfo == nil {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: "subscription_register", Err: fmt.Errorf("no subscriptionInfo in response")}
	}
	return body.SubscriptionInfo, nil
}

// History lists the user's persisted readings.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	payload, err := c.do(ctx, http.MethodGet, "/api/tarot/history", nil, true)
	if err != nil {
		return nil, err
	}
	var out struct {
		Readings []HistoryEntry `json:"readings"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: "history", Err: err}
	}
	return out.Readings, nil
}

// do executes one request and returns the unwrapped payload. Responses that
// nest the payload under data are flattened; flat responses pass through.
func (c *Client) do(ctx context.Context, method, path string, body any, authed bool) (json.RawMessage, error) {
	op := strings.Trim(strings.ReplaceAll(strings.TrimPrefix(path, "/api/"), "/", "_"), "_")

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Type: ErrorTypeAPI, Op: op, Err: err}
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &APIError{Type: ErrorTypeAPI, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if authed && c.tokens != nil {
		if token := c.tokens(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		errType := ErrorTypeConnection
		if isTimeout(err) {
			errType = ErrorTypeTimeout
		}
		c.log.Warn().Err(err).Str("op", op).Str("request_id", requestID).Msg("Backend request failed")
		return nil, &APIError{Type: errType, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &APIError{Type: ErrorTypeConnection, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	// Non-JSON bodies leave env zeroed; status handling below still applies.
	_ = json.Unmarshal(raw, &env)

	c.log.Debug().
		Str("op", op).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("Backend request completed")

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &APIError{Type: ErrorTypeAuth, Op: op, StatusCode: resp.StatusCode, Err: errors.New(statusMessage(env, resp.StatusCode))}
	}
	if resp.StatusCode == http.StatusForbidden && (env.SubscriptionRequired == nil || *env.SubscriptionRequired) {
		return nil, &SubscriptionRequiredError{Message: env.Error, Info: env.SubscriptionInfo}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Type: ErrorTypeAPI, Op: op, StatusCode: resp.StatusCode, Err: errors.New(statusMessage(env, resp.StatusCode))}
	}

	if env.Success && len(env.Data) > 0 {
		return mergeEnvelopeExtras(env, env.Data), nil
	}
	if len(raw) == 0 {
		return nil, &APIError{Type: ErrorTypeMalformed, Op: op, StatusCode: resp.StatusCode, Err: errors.New("empty response body")}
	}
	return json.RawMessage(raw), nil
}

// mergeEnvelopeExtras keeps top-level subscriptionInfo reachable when the
// payload was nested under data without its own copy.
func mergeEnvelopeExtras(env envelope, data json.RawMessage) json.RawMessage {
	if env.SubscriptionInfo == nil {
		return data
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return data
	}
	if _, ok := obj["subscriptionInfo"]; ok {
		return data
	}
	infoRaw, err := json.Marshal(env.SubscriptionInfo)
	if err != nil {
		return data
	}
	obj["subscriptionInfo"] = infoRaw
	merged, err := json.Marshal(obj)
	if err != nil {
		return data
	}
	return merged
}

func statusMessage(env envelope, status int) string {
	if env.Error != "" {
		return env.Error
	}
	return fmt.Sprintf("unexpected status %d", status)
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
