package telegram

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrNoLaunchContext is returned when no Telegram launch payload is available.
// Running outside Telegram is a supported degraded mode, so callers treat this
// as "no identity" rather than a failure.
var ErrNoLaunchContext = errors.New("telegram: no launch context available")

// LaunchContext is the identity handed over by the Telegram host at startup.
type LaunchContext struct {
	// InitData is the raw launch payload, exchanged with the backend for a token.
	InitData string

	// UserID is the Telegram user the payload belongs to.
	UserID int64
}

// Resolve builds a LaunchContext from the raw init data payload.
func Resolve(initData string) (LaunchContext, error) {
	trimmed := strings.TrimSpace(initData)
	if trimmed == "" {
		return LaunchContext{}, ErrNoLaunchContext
	}
	return LaunchContext{
		InitData: trimmed,
		UserID:   UserIDFromInitData(trimmed),
	}, nil
}

// UserIDFromInitData extracts the Telegram user ID embedded in an init data
// payload. Signature verification belongs to the backend; the client only
// needs a stable identity to detect cached tokens issued for somebody else.
func UserIDFromInitData(initData string) int64 {
	trimmed := strings.TrimSpace(initData)
	if trimmed == "" {
		return 0
	}

	if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil && parsed > 0 {
		return parsed
	}

	query, err := url.ParseQuery(trimmed)
	if err == nil && len(query) > 0 {
		if rawUser := query.Get("user"); rawUser != "" {
			var payload struct {
				ID int64 `json:"id"`
			}
			if unmarshalErr := json.Unmarshal([]byte(rawUser), &payload); unmarshalErr == nil && payload.ID > 0 {
				return payload.ID
			}
		}

		for _, key := range []string{"user_id", "id", "tg_user_id"} {
			if value := query.Get(key); value != "" {
				parsed, parseErr := strconv.ParseInt(value, 10, 64)
				if parseErr == nil && parsed > 0 {
					return parsed
				}
			}
		}
	}

	return fallbackUserID(trimmed)
}

// fallbackUserID derives a stable positive ID from the payload itself so
// identity comparisons still work when the payload carries no explicit user.
func fallbackUserID(initData string) int64 {
	hash := sha256.Sum256([]byte(initData))
	v := binary.BigEndian.Uint64(hash[:8]) & 0x7fffffffffffffff
	if v == 0 {
		v = 1
	}
	return int64(v)
}
