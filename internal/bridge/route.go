package bridge

import (
	"context"
	"sort"
	"strings"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"chainsweep/internal/models"
)

// OptimalRoute decides how to move amount of token from src to dst. A direct
// route is always preferred when any direct quote exists, picked by greatest
// output rather than score. Otherwise candidate intermediate chains are tried
// in their configured priority order, one at a time, feeding each first hop's
// output into its second hop; the best two-hop combination by total output
// wins. The search depth is bounded at one intermediate.
func (a *Aggregator) OptimalRoute(ctx context.Context, src, dst, token string, amount math.Int, sender, recipient string) (*models.OptimalRoute, error) {
	directReq := &models.QuoteRequest{
		SourceChain:      src,
		DestinationChain: dst,
		SourceToken:      token,
		DestinationToken: token,
		Amount:           amount,
		Sender:           sender,
		Recipient:        recipient,
	}

	direct, err := a.GetQuotes(ctx, directReq)
	if err != nil {
		return nil, err
	}
	if len(direct) > 0 {
		best := maxOutputQuote(direct)
		return &models.OptimalRoute{
			Type:        models.RouteDirect,
			Quotes:      []*models.Quote{best},
			TotalOutput: best.OutputAmount,
			TotalFees:   best.Fees.Total(),
			TotalTime:   best.EstimatedTime,
		}, nil
	}

	var best *models.OptimalRoute
	for _, mid := range a.cfg.IntermediateChains {
		if strings.EqualFold(mid, src) || strings.EqualFold(mid, dst) {
			continue
		}

		firstHops, err := a.GetQuotes(ctx, &models.QuoteRequest{
			SourceChain:      src,
			DestinationChain: mid,
			SourceToken:      token,
			DestinationToken: token,
			Amount:           amount,
			Sender:           sender,
			Recipient:        sender, // intermediate funds stay with the sender
		})
		if err != nil {
			return nil, err
		}
		if len(firstHops) == 0 {
			continue
		}
		first := maxOutputQuote(firstHops)

		secondHops, err := a.GetQuotes(ctx, &models.QuoteRequest{
			SourceChain:      mid,
			DestinationChain: dst,
			SourceToken:      token,
			DestinationToken: token,
			Amount:           first.OutputAmount,
			Sender:           sender,
			Recipient:        recipient,
		})
		if err != nil {
			return nil, err
		}
		if len(secondHops) == 0 {
			continue
		}
		second := maxOutputQuote(secondHops)

		candidate := &models.OptimalRoute{
			Type:              models.RouteMultiHop,
			Quotes:            []*models.Quote{first, second},
			IntermediateChain: mid,
			TotalOutput:       second.OutputAmount,
			TotalFees:         first.Fees.Total().Add(second.Fees.Total()),
			TotalTime:         first.EstimatedTime + second.EstimatedTime,
		}
		if best == nil || candidate.TotalOutput.GT(best.TotalOutput) {
			best = candidate
		}
	}

	if best == nil {
		return nil, ErrNoRoute
	}

	a.logger.Info("selected multi-hop route",
		zap.String("source_chain", src),
		zap.String("destination_chain", dst),
		zap.String("intermediate_chain", best.IntermediateChain),
		zap.Int("total_time", best.TotalTime))

	return best, nil
}

// SortQuotes re-sorts an already-fetched quote set by the given priority:
// speed (ascending estimated time), cost (ascending total fees) or
// reliability (configured provider preference order, unknown providers
// last). An unspecified priority passes quotes through unsorted.
func (a *Aggregator) SortQuotes(quotes []*models.Quote, priority models.RoutePriority) []*models.Quote {
	out := make([]*models.Quote, len(quotes))
	copy(out, quotes)

	switch priority {
	case models.PrioritySpeed:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].EstimatedTime < out[j].EstimatedTime
		})
	case models.PriorityCost:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Fees.Total().LT(out[j].Fees.Total())
		})
	case models.PriorityReliability:
		sort.SliceStable(out, func(i, j int) bool {
			return a.preferenceIndex(out[i].Provider) < a.preferenceIndex(out[j].Provider)
		})
	}
	return out
}

func (a *Aggregator) preferenceIndex(provider string) int {
	for i, name := range a.cfg.PreferredProviders {
		if strings.EqualFold(name, provider) {
			return i
		}
	}
	return len(a.cfg.PreferredProviders)
}

// maxOutputQuote returns the quote with the strictly greatest output amount;
// the earliest quote wins ties
func maxOutputQuote(quotes []*models.Quote) *models.Quote {
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.OutputAmount.GT(best.OutputAmount) {
			best = q
		}
	}
	return best
}
