package tarotapi

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Entitlements is the backend's point-in-time view of what the current user
// may do. Remaining counters are informational only and must not gate
// free-tier access; gating is time-based via Cooldowns.
type Entitlements struct {
	HasSubscription bool `json:"hasSubscription"`
	IsExpired       bool `json:"isExpired"`

	CanUseDailyAdvice bool `json:"canUseDailyAdvice"`
	CanUseYesNo       bool `json:"canUseYesNo"`
	CanUseThreeCards  bool `json:"canUseThreeCards"`

	FreeDailyAdviceUsed bool `json:"freeDailyAdviceUsed"`
	FreeYesNoUsed       bool `json:"freeYesNoUsed"`
	FreeThreeCardsUsed  bool `json:"freeThreeCardsUsed"`

	RemainingDailyAdvice int `json:"remainingDailyAdvice"`
	RemainingYesNo       int `json:"remainingYesNo"`
	RemainingThreeCards  int `json:"remainingThreeCards"`

	HistoryLimit int `json:"historyLimit"`

	// Cooldowns carries milliseconds remaining until each feature unlocks,
	// measured at the server at response time. Consumers must anchor these
	// to local receipt time immediately; the relative values go stale.
	Cooldowns *Cooldowns `json:"cooldowns,omitempty"`
}

// Cooldowns holds per-feature remaining cooldown durations.
type Cooldowns struct {
	DailyAdviceMsRemaining int64 `json:"dailyAdviceMsRemaining"`
	YesNoMsRemaining       int64 `json:"yesNoMsRemaining"`
	ThreeCardsMsRemaining  int64 `json:"threeCardsMsRemaining"`

	DailyAdviceHoursRemaining float64 `json:"dailyAdviceHoursRemaining"`
	YesNoHoursRemaining       float64 `json:"yesNoHoursRemaining"`
	ThreeCardsHoursRemaining  float64 `json:"threeCardsHoursRemaining"`
}

// AuthResult is the outcome of exchanging Telegram launch data for a token.
type AuthResult struct {
	Token string
	// ExpiresAtMs is the token expiry as epoch milliseconds, already
	// normalized from whatever unit the backend used.
	ExpiresAtMs int64
}

// TarotCard is a single drawn card.
type TarotCard struct {
	Name          string `json:"name"`
	Image         string `json:"image,omitempty"`
	ImagePath     string `json:"imagePath,omitempty"`
	Keywords      string `json:"keywords"`
	Advice        string `json:"advice"`
	Meaning       string `json:"meaning"`
	IsMajorArcana bool   `json:"isMajorArcana"`
	Suit          string `json:"suit"`
	Number        int    `json:"number"`
}

// DailyAdvice is the daily one-card reading.
type DailyAdvice struct {
	Advice string    `json:"advice"`
	Card   TarotCard `json:"card"`
}

// YesNoReading answers a yes/no question with one card.
type YesNoReading struct {
	ReadingID      string    `json:"readingId"`
	Question       string    `json:"question"`
	Card           TarotCard `json:"card"`
	Answer         string    `json:"answer"`
	Interpretation string    `json:"interpretation"`
}

// ThreeCardsReading is the past/present/future style spread.
type ThreeCardsReading struct {
	ReadingID      string      `json:"readingId"`
	Cards          []TarotCard `json:"cards"`
	Interpretation string      `json:"interpretation"`
	Category       string      `json:"category"`
}

// ClarifyingRequest asks a follow-up question about an existing reading.
type ClarifyingRequest struct {
	Question       string    `json:"question"`
	Card           TarotCard `json:"card"`
	Interpretation string    `json:"interpretation"`
	Category       string    `json:"category"`
	ReadingID      string    `json:"readingId,omitempty"`
}

// ClarifyingAnswer is the follow-up answer with its drawn card.
type ClarifyingAnswer struct {
	Answer string    `json:"answer"`
	Card   TarotCard `json:"card"`
}

// UserRegistration identifies a Telegram user to the backend.
type UserRegistration struct {
	TelegramID   int64  `json:"telegramId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// HistoryEntry is one persisted reading in the user's history.
type HistoryEntry struct {
	ReadingID      string          `json:"readingId"`
	Type           string          `json:"type"`
	Question       string          `json:"question,omitempty"`
	Interpretation string          `json:"interpretation,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	type alias HistoryEntry
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = HistoryEntry(a)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// envelope is the backend's response wrapper. Some deployments return the
// payload flat, others nest it under data; both are accepted.
type envelope struct {
	Success              bool            `json:"success"`
	Data                 json.RawMessage `json:"data,omitempty"`
	Error                string          `json:"error,omitempty"`
	SubscriptionRequired *bool           `json:"subscriptionRequired,omitempty"`
	SubscriptionInfo     *Entitlements   `json:"subscriptionInfo,omitempty"`
}

// flexInt64 decodes a JSON number or numeric string.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	// Some backends serialize expiry as a float.
	if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
		*f = flexInt64(int64(parsed))
		return nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(parsed)
	return nil
}

// NormalizeEpochMs converts an epoch value that may be expressed in seconds
// into epoch milliseconds. Values below 1e12 are treated as seconds.
func NormalizeEpochMs(raw int64) int64 {
	if raw <= 0 {
		return 0
	}
	if raw < 1_000_000_000_000 {
		return raw * 1000
	}
	return raw
}
