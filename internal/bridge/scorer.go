package bridge

import (
	"math/big"
	"strings"
	"time"

	"cosmossdk.io/math"

	"chainsweep/internal/models"
)

// ScoringConfig controls the route scorer
type ScoringConfig struct {
	// PreferFastFill awards the full speed score to fast-fill quotes
	PreferFastFill bool
	// MaxBridgeTime is the estimated time at which the speed score reaches zero
	MaxBridgeTime time.Duration
}

// Historical-reliability priors per provider. Unknown providers score
// defaultReliability.
var reliabilityPriors = map[string]float64{
	"across":   15,
	"stargate": 12,
	"hop":      10,
	"cbridge":  10,
	"socket":   10,
	"lifi":     8,
}

const defaultReliability = 5

// Score rates a quote for ranking, higher is better. It is a weighted sum of
// four bounded terms: output ratio (x50), speed (<=20), fee efficiency (<=15)
// and provider reliability. Scores are only meaningful relative to other
// quotes in the same comparison.
func Score(q *models.Quote, cfg ScoringConfig) float64 {
	score := intRatio(q.OutputAmount, q.InputAmount) * 50

	if q.IsFastFill && cfg.PreferFastFill {
		score += 20
	} else {
		maxSeconds := cfg.MaxBridgeTime.Seconds()
		if maxSeconds > 0 {
			speed := 20 * (1 - float64(q.EstimatedTime)/maxSeconds)
			if speed > 0 {
				score += speed
			}
		}
	}

	feeRatio := intRatio(q.Fees.Total(), q.InputAmount)
	if feeScore := 15 - feeRatio*100; feeScore > 0 {
		score += feeScore
	}

	score += providerReliability(q.Provider)

	return score
}

func providerReliability(provider string) float64 {
	if prior, ok := reliabilityPriors[strings.ToLower(provider)]; ok {
		return prior
	}
	return defaultReliability
}

// intRatio returns num/den as a float, 0 when den is zero or unset
func intRatio(num, den math.Int) float64 {
	if num.IsNil() || den.IsNil() || den.IsZero() {
		return 0
	}
	q := new(big.Float).Quo(
		new(big.Float).SetInt(num.BigInt()),
		new(big.Float).SetInt(den.BigInt()),
	)
	out, _ := q.Float64()
	return out
}
