package rewards

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is the reward level minted for a tip. The numeric values are what the
// contract receives.
type Tier uint8

const (
	TierCommon Tier = iota
	TierRare
	TierLegendary
)

var (
	rareThreshold      = decimal.NewFromInt(50)
	legendaryThreshold = decimal.NewFromInt(100)
)

// TierFor maps a tip amount to its tier. Both thresholds are inclusive.
func TierFor(amount decimal.Decimal) Tier {
	switch {
	case amount.GreaterThanOrEqual(legendaryThreshold):
		return TierLegendary
	case amount.GreaterThanOrEqual(rareThreshold):
		return TierRare
	default:
		return TierCommon
	}
}

func (t Tier) String() string {
	switch t {
	case TierCommon:
		return "common"
	case TierRare:
		return "rare"
	case TierLegendary:
		return "legendary"
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}
