package auth

import (
	"strconv"
	"time"

	"github.com/Arsenji/tarot-client/internal/storage"
	"github.com/Arsenji/tarot-client/pkg/tarotapi"
)

// Credential is a bearer token bound to the Telegram identity it was
// issued for.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	// UserID is the Telegram user the token was issued for. Zero when the
	// issuing identity was not recorded.
	UserID int64
}

// Valid reports whether the credential is usable right now for the given
// active identity. A credential issued for a different user is never valid,
// to keep one user's cached token from leaking to another account on the
// same device. When either identity is unknown the check is skipped.
func (c Credential) Valid(now time.Time, activeUserID int64) bool {
	if c.Token == "" || c.ExpiresAt.IsZero() {
		return false
	}
	if !now.Before(c.ExpiresAt) {
		return false
	}
	if c.UserID != 0 && activeUserID != 0 && c.UserID != activeUserID {
		return false
	}
	return true
}

// loadCredential reads the persisted credential, if any. Expiry is stored as
// epoch ms but older writers may have stored seconds.
func loadCredential(store storage.Store) (Credential, bool) {
	token, ok, err := store.Get(storage.KeyAuthToken)
	if err != nil || !ok || token == "" {
		return Credential{}, false
	}
	rawExpires, ok, err := store.Get(storage.KeyTokenExpires)
	if err != nil || !ok {
		return Credential{}, false
	}
	expiresMs, err := strconv.ParseInt(rawExpires, 10, 64)
	if err != nil || expiresMs <= 0 {
		return Credential{}, false
	}
	expiresMs = tarotapi.NormalizeEpochMs(expiresMs)

	cred := Credential{
		Token:     token,
		ExpiresAt: time.UnixMilli(expiresMs),
	}
	if rawUser, ok, err := store.Get(storage.KeyAuthUserID); err == nil && ok {
		if userID, err := strconv.ParseInt(rawUser, 10, 64); err == nil {
			cred.UserID = userID
		}
	}
	return cred, true
}

func persistCredential(store storage.Store, cred Credential) error {
	if err := store.Set(storage.KeyAuthToken, cred.Token); err != nil {
		return err
	}
	if err := store.Set(storage.KeyTokenExpires, strconv.FormatInt(cred.ExpiresAt.UnixMilli(), 10)); err != nil {
		return err
	}
	if cred.UserID != 0 {
		return store.Set(storage.KeyAuthUserID, strconv.FormatInt(cred.UserID, 10))
	}
	return store.Delete(storage.KeyAuthUserID)
}

func clearCredential(store storage.Store) {
	_ = store.Delete(storage.KeyAuthToken)
	_ = store.Delete(storage.KeyTokenExpires)
	_ = store.Delete(storage.KeyAuthUserID)
}
