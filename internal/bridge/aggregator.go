package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chainsweep/internal/config"
	"chainsweep/internal/models"
	"chainsweep/internal/store"
)

var (
	// ErrNoRoute is returned when neither a direct nor a two-hop route exists
	ErrNoRoute = errors.New("no route found between source and destination")
	// ErrQuoteExpired is returned when a transaction is requested for a stale quote
	ErrQuoteExpired = errors.New("quote has expired")
	// ErrProviderNotEnabled is returned when a quote's provider is not in the registry
	ErrProviderNotEnabled = errors.New("provider not enabled")
)

// Aggregator fans quote requests out to all enabled providers, ranks the
// results and searches for two-hop routes when no direct route exists. One
// instance is constructed at process start with its provider registry and
// store handle injected.
type Aggregator struct {
	registry *Registry
	store    store.Store
	cfg      config.BridgeConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregator creates an aggregator over the given registry and store
func NewAggregator(registry *Registry, st store.Store, cfg config.BridgeConfig, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		registry: registry,
		store:    st,
		cfg:      cfg,
		logger:   logger.Named("bridge"),
		now:      time.Now,
	}
}

// ScoringConfig returns the scorer settings derived from the aggregator config
func (a *Aggregator) ScoringConfig() ScoringConfig {
	return ScoringConfig{
		PreferFastFill: a.cfg.PreferFastFill,
		MaxBridgeTime:  a.cfg.MaxBridgeTime,
	}
}

func supportCacheKey(src, dst, token string) string {
	return fmt.Sprintf("bridge:support:%s:%s:%s", src, dst, token)
}

// SupportedProviders returns every enabled provider that supports the route,
// in registry order. Support checks run concurrently; a provider that errors
// is treated as unsupported. Results are cached in the store.
func (a *Aggregator) SupportedProviders(ctx context.Context, src, dst, token string) ([]Provider, error) {
	key := supportCacheKey(src, dst, token)
	if cached, err := a.store.Get(ctx, key); err == nil {
		var names []string
		if err := json.Unmarshal(cached, &names); err == nil {
			return a.resolve(names), nil
		}
	}

	providers := a.registry.Enabled()
	supported := make([]bool, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			ok, err := p.SupportsRoute(ctx, src, dst, token)
			if err != nil {
				a.logger.Warn("support check failed",
					zap.String("provider", p.Name()),
					zap.String("source_chain", src),
					zap.String("destination_chain", dst),
					zap.Error(err))
				return
			}
			supported[i] = ok
		}(i, p)
	}
	wg.Wait()

	result := make([]Provider, 0, len(providers))
	names := make([]string, 0, len(providers))
	for i, p := range providers {
		if supported[i] {
			result = append(result, p)
			names = append(names, p.Name())
		}
	}

	if encoded, err := json.Marshal(names); err == nil {
		if err := a.store.Set(ctx, key, encoded, a.cfg.SupportCacheTTL); err != nil {
			a.logger.Warn("failed to cache route support", zap.String("key", key), zap.Error(err))
		}
	}

	return result, nil
}

func (a *Aggregator) resolve(names []string) []Provider {
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		if p, ok := a.registry.Provider(name); ok {
			out = append(out, p)
		}
	}
	return out
}

// GetQuotes requests quotes from every provider supporting the route,
// concurrently. Providers returning nil or erroring are dropped silently;
// the result preserves registry order and may be empty. A slow provider is
// bounded by the configured quote timeout so it cannot stall the whole fan-out.
func (a *Aggregator) GetQuotes(ctx context.Context, req *models.QuoteRequest) ([]*models.Quote, error) {
	providers, err := a.SupportedProviders(ctx, req.SourceChain, req.DestinationChain, req.SourceToken)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return []*models.Quote{}, nil
	}

	if a.cfg.QuoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.QuoteTimeout)
		defer cancel()
	}

	results := make([]*models.Quote, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			quote, err := p.GetQuote(ctx, req)
			if err != nil {
				a.logger.Warn("quote request failed",
					zap.String("provider", p.Name()),
					zap.String("source_chain", req.SourceChain),
					zap.String("destination_chain", req.DestinationChain),
					zap.Error(err))
				return
			}
			results[i] = quote
		}(i, p)
	}
	wg.Wait()

	quotes := make([]*models.Quote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, q)
		}
	}

	a.logger.Debug("collected quotes",
		zap.String("source_chain", req.SourceChain),
		zap.String("destination_chain", req.DestinationChain),
		zap.Int("providers", len(providers)),
		zap.Int("quotes", len(quotes)))

	return quotes, nil
}

// CompareQuotes fetches and scores quotes for a request, ranked descending by
// score. Ties keep the original quote order.
func (a *Aggregator) CompareQuotes(ctx context.Context, req *models.QuoteRequest) (*models.QuoteComparison, error) {
	quotes, err := a.GetQuotes(ctx, req)
	if err != nil {
		return nil, err
	}

	scoring := a.ScoringConfig()
	ranked := make([]*models.Quote, len(quotes))
	copy(ranked, quotes)

	scores := make(map[*models.Quote]float64, len(quotes))
	for _, q := range quotes {
		scores[q] = Score(q, scoring)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})

	comparison := make([]models.ProviderScore, 0, len(ranked))
	for _, q := range ranked {
		comparison = append(comparison, models.ProviderScore{
			Provider:      q.Provider,
			Score:         scores[q],
			TotalFeeUsd:   q.Fees.TotalFeeUsd,
			EstimatedTime: q.EstimatedTime,
		})
	}

	result := &models.QuoteComparison{
		Quotes:     quotes,
		Comparison: comparison,
	}
	if len(ranked) > 0 {
		result.BestQuote = ranked[0]
	}
	return result, nil
}

// BestQuote returns the top-ranked quote for a request, or nil when no
// provider quoted
func (a *Aggregator) BestQuote(ctx context.Context, req *models.QuoteRequest) (*models.Quote, error) {
	comparison, err := a.CompareQuotes(ctx, req)
	if err != nil {
		return nil, err
	}
	return comparison.BestQuote, nil
}

// BuildTransaction delegates to the quote's originating provider. It fails
// for expired quotes and for providers that are no longer enabled.
func (a *Aggregator) BuildTransaction(ctx context.Context, quote *models.Quote) (*models.TransactionRequest, error) {
	p, ok := a.registry.Provider(quote.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotEnabled, quote.Provider)
	}
	if quote.Expired(a.now()) {
		return nil, fmt.Errorf("%w: %s", ErrQuoteExpired, quote.QuoteID)
	}
	return p.BuildTransaction(ctx, quote)
}

// Status returns a bridge receipt for a submitted transaction. With a
// provider name it delegates directly; otherwise it probes enabled providers
// in registry order and returns the first non-pending answer, falling back to
// a synthetic pending receipt.
func (a *Aggregator) Status(ctx context.Context, txHash, chain, provider string) (*models.BridgeReceipt, error) {
	if provider != "" {
		p, ok := a.registry.Provider(provider)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotEnabled, provider)
		}
		receipt, err := p.GetStatus(ctx, txHash, chain)
		if err != nil {
			return nil, err
		}
		receipt.Provider = p.Name()
		return receipt, nil
	}

	for _, p := range a.registry.Enabled() {
		receipt, err := p.GetStatus(ctx, txHash, chain)
		if err != nil {
			a.logger.Debug("status probe failed",
				zap.String("provider", p.Name()),
				zap.String("tx_hash", txHash),
				zap.Error(err))
			continue
		}
		if receipt != nil && receipt.Status != models.ReceiptPending {
			receipt.Provider = p.Name()
			return receipt, nil
		}
	}

	return &models.BridgeReceipt{
		Status:       models.ReceiptPending,
		SourceTxHash: txHash,
		SourceChain:  chain,
	}, nil
}
