package models

import (
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RoutePriority selects how an already-fetched quote set is re-sorted
type RoutePriority string

const (
	PrioritySpeed       RoutePriority = "speed"
	PriorityCost        RoutePriority = "cost"
	PriorityReliability RoutePriority = "reliability"
)

// StepType identifies one leg of a route
type StepType string

const (
	StepSwap   StepType = "swap"
	StepBridge StepType = "bridge"
	StepWrap   StepType = "wrap"
)

// QuoteRequest describes one requested transfer for which providers are asked to quote
type QuoteRequest struct {
	SourceChain      string        `json:"sourceChain"`
	DestinationChain string        `json:"destinationChain"`
	SourceToken      string        `json:"sourceToken"`
	DestinationToken string        `json:"destinationToken"`
	Amount           math.Int      `json:"amount"`
	Sender           string        `json:"sender"`
	Recipient        string        `json:"recipient"`
	SlippageBps      int           `json:"slippageBps,omitempty"`
	Priority         RoutePriority `json:"priority,omitempty"`
	PreferFastFill   bool          `json:"preferFastFill,omitempty"`
}

// QuoteFees breaks down the cost of a quote. Bridge, gas and relayer fees are
// denominated in the source token's base units; TotalFeeUsd is informational.
type QuoteFees struct {
	BridgeFee   math.Int `json:"bridgeFee"`
	GasFee      math.Int `json:"gasFee"`
	RelayerFee  math.Int `json:"relayerFee"`
	TotalFeeUsd float64  `json:"totalFeeUsd"`
}

// Total returns the sum of the token-denominated fee components
func (f QuoteFees) Total() math.Int {
	return f.BridgeFee.Add(f.GasFee).Add(f.RelayerFee)
}

// RouteStep is one ordered leg (swap/bridge/wrap) of a quoted route
type RouteStep struct {
	Type     StepType `json:"type"`
	Chain    string   `json:"chain"`
	Protocol string   `json:"protocol,omitempty"`
	TokenIn  string   `json:"tokenIn"`
	TokenOut string   `json:"tokenOut"`
}

// Route is the ordered list of legs a quote executes
type Route struct {
	Steps []RouteStep `json:"steps"`
}

// Quote is one provider's time-bounded offer for a requested transfer.
// Quotes are immutable once issued; a fresh one is produced per request.
type Quote struct {
	QuoteID          string    `json:"quoteId"`
	Provider         string    `json:"provider"`
	SourceChain      string    `json:"sourceChain"`
	DestinationChain string    `json:"destinationChain"`
	SourceToken      string    `json:"sourceToken"`
	DestinationToken string    `json:"destinationToken"`
	InputAmount      math.Int  `json:"inputAmount"`
	OutputAmount     math.Int  `json:"outputAmount"`
	MinOutputAmount  math.Int  `json:"minOutputAmount"`
	Fees             QuoteFees `json:"fees"`
	EstimatedTime    int       `json:"estimatedTime"` // seconds
	IsFastFill       bool      `json:"isFastFill"`
	Route            Route     `json:"route"`
	ExpiresAt        time.Time `json:"expiresAt"`
	Tags             []string  `json:"tags,omitempty"`
}

// Expired reports whether the quote can no longer be used to build a transaction
func (q *Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt)
}

// ProviderScore is one row of a quote comparison summary
type ProviderScore struct {
	Provider      string  `json:"provider"`
	Score         float64 `json:"score"`
	TotalFeeUsd   float64 `json:"totalFeeUsd"`
	EstimatedTime int     `json:"estimatedTime"`
}

// QuoteComparison is a ranked view over the quotes returned for one request.
// Derived, never persisted.
type QuoteComparison struct {
	Quotes     []*Quote        `json:"quotes"`
	BestQuote  *Quote          `json:"bestQuote"`
	Comparison []ProviderScore `json:"comparison"` // sorted descending by score
}

// RouteType distinguishes direct from two-hop routes
type RouteType string

const (
	RouteDirect   RouteType = "direct"
	RouteMultiHop RouteType = "multi_hop"
)

// OptimalRoute is the outcome of the route decision procedure: a direct quote
// when one exists, otherwise the best two-hop combination found.
type OptimalRoute struct {
	Type              RouteType `json:"type"`
	Quotes            []*Quote  `json:"quotes"` // one leg, or two in hop order
	IntermediateChain string    `json:"intermediateChain,omitempty"`
	TotalOutput       math.Int  `json:"totalOutput"`
	TotalFees         math.Int  `json:"totalFees"`
	TotalTime         int       `json:"totalTime"` // seconds
}

// TokenApproval is an ERC20 approval required before the bridge transaction
type TokenApproval struct {
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  math.Int       `json:"amount"`
}

// TransactionRequest is an unsigned transaction built from a quote, ready for
// the caller's wallet. Signing and broadcast happen outside this service.
type TransactionRequest struct {
	To       common.Address `json:"to"`
	Data     hexutil.Bytes  `json:"data"`
	Value    math.Int       `json:"value"`
	GasLimit uint64         `json:"gasLimit"`
	Approval *TokenApproval `json:"approval,omitempty"`
}

// ReceiptStatus is a provider's view of a submitted bridge transaction
type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptFilled    ReceiptStatus = "filled"
	ReceiptFailed    ReceiptStatus = "failed"
)

// BridgeReceipt reports the progress of a bridge transfer on both chains
type BridgeReceipt struct {
	Provider            string        `json:"provider,omitempty"`
	Status              ReceiptStatus `json:"status"`
	SourceTxHash        string        `json:"sourceTxHash"`
	SourceChain         string        `json:"sourceChain"`
	SourceConfirmations uint64        `json:"sourceConfirmations"`
	DestinationTxHash   string        `json:"destinationTxHash,omitempty"`
	OutputAmount        *math.Int     `json:"outputAmount,omitempty"`
}
