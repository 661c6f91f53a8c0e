package subscription

import (
	"time"

	"github.com/Arsenji/tarot-client/pkg/tarotapi"
)

// Feature identifies a reading type gated by entitlement.
type Feature string

const (
	FeatureDaily      Feature = "daily"
	FeatureYesNo      Feature = "yesNo"
	FeatureThreeCards Feature = "threeCards"
)

// Features lists every gated feature.
var Features = []Feature{FeatureDaily, FeatureYesNo, FeatureThreeCards}

// Availability is the gating decision for one feature.
type Availability struct {
	Allowed bool
	// NextAvailableAt is set when the feature is on cooldown and the unlock
	// instant is known.
	NextAvailableAt *time.Time
}

// LockedDefault is the fail-safe snapshot used before any server truth is
// known and after a failed load: nothing is usable.
func LockedDefault() tarotapi.Entitlements {
	return tarotapi.Entitlements{}
}

func canUse(info tarotapi.Entitlements, feature Feature) bool {
	switch feature {
	case FeatureDaily:
		return info.CanUseDailyAdvice
	case FeatureYesNo:
		return info.CanUseYesNo
	case FeatureThreeCards:
		return info.CanUseThreeCards
	}
	return false
}

func freeUseConsumed(info tarotapi.Entitlements, feature Feature) bool {
	switch feature {
	case FeatureDaily:
		return info.FreeDailyAdviceUsed
	case FeatureYesNo:
		return info.FreeYesNoUsed
	case FeatureThreeCards:
		return info.FreeThreeCardsUsed
	}
	return true
}

func cooldownMsRemaining(info tarotapi.Entitlements, feature Feature) int64 {
	if info.Cooldowns == nil {
		return 0
	}
	switch feature {
	case FeatureDaily:
		return info.Cooldowns.DailyAdviceMsRemaining
	case FeatureYesNo:
		return info.Cooldowns.YesNoMsRemaining
	case FeatureThreeCards:
		return info.Cooldowns.ThreeCardsMsRemaining
	}
	return 0
}

// deriveCooldowns converts the snapshot's relative remaining-ms values into
// absolute deadlines anchored at the receipt instant. Computed once per
// accepted snapshot; the relative fields are never re-read later.
func deriveCooldowns(info tarotapi.Entitlements, receivedAt time.Time) map[Feature]time.Time {
	if info.Cooldowns == nil {
		return nil
	}
	ends := make(map[Feature]time.Time)
	for _, feature := range Features {
		if ms := cooldownMsRemaining(info, feature); ms > 0 {
			ends[feature] = receivedAt.Add(time.Duration(ms) * time.Millisecond)
		}
	}
	return ends
}
