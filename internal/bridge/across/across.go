// Package across implements the bridge provider contract on top of the
// Across HTTP API.
package across

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainsweep/internal/models"
)

const (
	// quotes are rebuilt fresh when older than this
	quoteValidity = 2 * time.Minute
	// fills faster than this are tagged fast-fill
	fastFillThreshold = 60

	depositABI = `[{"name":"depositV3","type":"function","inputs":[
		{"name":"depositor","type":"address"},
		{"name":"recipient","type":"address"},
		{"name":"inputToken","type":"address"},
		{"name":"outputToken","type":"address"},
		{"name":"inputAmount","type":"uint256"},
		{"name":"outputAmount","type":"uint256"},
		{"name":"destinationChainId","type":"uint256"},
		{"name":"exclusiveRelayer","type":"address"},
		{"name":"quoteTimestamp","type":"uint32"},
		{"name":"fillDeadline","type":"uint32"},
		{"name":"exclusivityDeadline","type":"uint32"},
		{"name":"message","type":"bytes"}]}]`
)

// chain name -> EVM chain id, for the chains Across serves
var chainIDs = map[string]uint64{
	"ethereum": 1,
	"optimism": 10,
	"polygon":  137,
	"base":     8453,
	"arbitrum": 42161,
}

// token symbol -> chain name -> contract address
var tokenAddresses = map[string]map[string]string{
	"USDC": {
		"ethereum": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"optimism": "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		"polygon":  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		"base":     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"arbitrum": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	},
	"WETH": {
		"ethereum": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"optimism": "0x4200000000000000000000000000000000000006",
		"polygon":  "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
		"base":     "0x4200000000000000000000000000000000000006",
		"arbitrum": "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
	},
}

// Provider is the Across adapter
type Provider struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
	abi      abi.ABI

	mu     sync.Mutex
	quotes map[string]*pendingQuote
}

// pendingQuote keeps what a later BuildTransaction needs for a quote
type pendingQuote struct {
	quote          *models.Quote
	spokePool      common.Address
	inputToken     common.Address
	outputToken    common.Address
	depositor      common.Address
	recipient      common.Address
	destinationID  uint64
	quoteTimestamp uint32
}

// New creates an Across provider against the given API endpoint
func New(endpoint string, logger *zap.Logger) (*Provider, error) {
	parsed, err := abi.JSON(strings.NewReader(depositABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse deposit ABI: %w", err)
	}
	return &Provider{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger.Named("across"),
		abi:      parsed,
		quotes:   make(map[string]*pendingQuote),
	}, nil
}

// Name implements the provider contract
func (p *Provider) Name() string { return "across" }

// SupportsRoute reports whether Across serves both chains and knows the token
// on each of them
func (p *Provider) SupportsRoute(_ context.Context, sourceChain, destinationChain, token string) (bool, error) {
	if sourceChain == destinationChain {
		return false, nil
	}
	if _, ok := chainIDs[sourceChain]; !ok {
		return false, nil
	}
	if _, ok := chainIDs[destinationChain]; !ok {
		return false, nil
	}
	addrs, ok := tokenAddresses[strings.ToUpper(token)]
	if !ok {
		return false, nil
	}
	_, srcOK := addrs[sourceChain]
	_, dstOK := addrs[destinationChain]
	return srcOK && dstOK, nil
}

type suggestedFeesResponse struct {
	TotalRelayFee       feeComponent `json:"totalRelayFee"`
	RelayerCapitalFee   feeComponent `json:"relayerCapitalFee"`
	RelayerGasFee       feeComponent `json:"relayerGasFee"`
	LpFee               feeComponent `json:"lpFee"`
	Timestamp           string       `json:"timestamp"`
	IsAmountTooLow      bool         `json:"isAmountTooLow"`
	SpokePoolAddress    string       `json:"spokePoolAddress"`
	ExpectedFillTimeSec string       `json:"expectedFillTimeSec"`
}

type feeComponent struct {
	Total string `json:"total"`
}

// GetQuote asks the suggested-fees endpoint for a quote. A request Across
// cannot serve (amount too low, unknown pair) yields a nil quote, not an
// error.
func (p *Provider) GetQuote(ctx context.Context, req *models.QuoteRequest) (*models.Quote, error) {
	srcToken, dstToken, err := routeTokens(req)
	if err != nil {
		return nil, nil
	}

	params := url.Values{}
	params.Set("inputToken", srcToken.Hex())
	params.Set("outputToken", dstToken.Hex())
	params.Set("originChainId", fmt.Sprintf("%d", chainIDs[req.SourceChain]))
	params.Set("destinationChainId", fmt.Sprintf("%d", chainIDs[req.DestinationChain]))
	params.Set("amount", req.Amount.String())

	var resp suggestedFeesResponse
	if err := p.getJSON(ctx, "/suggested-fees?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.IsAmountTooLow {
		p.logger.Debug("amount below across minimum",
			zap.String("source_chain", req.SourceChain),
			zap.String("amount", req.Amount.String()))
		return nil, nil
	}

	totalFee, err := parseAmount(resp.TotalRelayFee.Total)
	if err != nil {
		return nil, fmt.Errorf("bad total relay fee %q: %w", resp.TotalRelayFee.Total, err)
	}
	gasFee, _ := parseAmount(resp.RelayerGasFee.Total)
	capitalFee, _ := parseAmount(resp.RelayerCapitalFee.Total)
	lpFee, _ := parseAmount(resp.LpFee.Total)

	output := req.Amount.Sub(totalFee)
	if !output.IsPositive() {
		return nil, nil
	}

	slippageBps := int64(req.SlippageBps)
	if slippageBps == 0 {
		slippageBps = 50
	}
	minOutput := output.MulRaw(10000 - slippageBps).QuoRaw(10000)

	fillTime := parseSeconds(resp.ExpectedFillTimeSec)
	now := time.Now()

	quote := &models.Quote{
		QuoteID:          uuid.NewString(),
		Provider:         p.Name(),
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
		SourceToken:      req.SourceToken,
		DestinationToken: req.DestinationToken,
		InputAmount:      req.Amount,
		OutputAmount:     output,
		MinOutputAmount:  minOutput,
		Fees: models.QuoteFees{
			BridgeFee:  lpFee,
			GasFee:     gasFee,
			RelayerFee: capitalFee,
		},
		EstimatedTime: fillTime,
		IsFastFill:    fillTime > 0 && fillTime <= fastFillThreshold,
		Route: models.Route{Steps: []models.RouteStep{{
			Type:     models.StepBridge,
			Chain:    req.SourceChain,
			Protocol: "across",
			TokenIn:  req.SourceToken,
			TokenOut: req.DestinationToken,
		}}},
		ExpiresAt: now.Add(quoteValidity),
	}

	p.remember(quote, &pendingQuote{
		quote:          quote,
		spokePool:      common.HexToAddress(resp.SpokePoolAddress),
		inputToken:     srcToken,
		outputToken:    dstToken,
		depositor:      common.HexToAddress(req.Sender),
		recipient:      common.HexToAddress(req.Recipient),
		destinationID:  chainIDs[req.DestinationChain],
		quoteTimestamp: uint32(now.Unix()),
	})

	return quote, nil
}

// BuildTransaction encodes a depositV3 call for a previously issued quote
func (p *Provider) BuildTransaction(_ context.Context, quote *models.Quote) (*models.TransactionRequest, error) {
	p.mu.Lock()
	pending, ok := p.quotes[quote.QuoteID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("quote %s not found or expired", quote.QuoteID)
	}

	fillDeadline := uint32(time.Now().Add(4 * time.Hour).Unix())
	data, err := p.abi.Pack("depositV3",
		pending.depositor,
		pending.recipient,
		pending.inputToken,
		pending.outputToken,
		quote.InputAmount.BigInt(),
		quote.MinOutputAmount.BigInt(),
		new(big.Int).SetUint64(pending.destinationID),
		common.Address{}, // no exclusive relayer
		pending.quoteTimestamp,
		fillDeadline,
		uint32(0),
		[]byte{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deposit: %w", err)
	}

	return &models.TransactionRequest{
		To:       pending.spokePool,
		Data:     data,
		Value:    sdkmath.ZeroInt(),
		GasLimit: 250_000,
		Approval: &models.TokenApproval{
			Token:   pending.inputToken,
			Spender: pending.spokePool,
			Amount:  quote.InputAmount,
		},
	}, nil
}

type depositStatusResponse struct {
	Status     string `json:"status"` // pending | filled
	FillTx     string `json:"fillTx"`
	FillAmount string `json:"fillAmount"`
}

// GetStatus resolves a deposit's fill state from the Across API
func (p *Provider) GetStatus(ctx context.Context, txHash, chain string) (*models.BridgeReceipt, error) {
	chainID, ok := chainIDs[chain]
	if !ok {
		return nil, fmt.Errorf("unknown chain %s", chain)
	}

	params := url.Values{}
	params.Set("originChainId", fmt.Sprintf("%d", chainID))
	params.Set("depositTxHash", txHash)

	var resp depositStatusResponse
	if err := p.getJSON(ctx, "/deposit/status?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	receipt := &models.BridgeReceipt{
		Provider:     p.Name(),
		Status:       models.ReceiptPending,
		SourceTxHash: txHash,
		SourceChain:  chain,
	}
	if resp.Status == "filled" {
		receipt.Status = models.ReceiptFilled
		receipt.DestinationTxHash = resp.FillTx
		if amount, err := parseAmount(resp.FillAmount); err == nil && !amount.IsZero() {
			receipt.OutputAmount = &amount
		}
	}
	return receipt, nil
}

// getJSON performs a GET against the Across API and decodes the response
func (p *Provider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+path, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("across request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read across response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("across returned status %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

func (p *Provider) remember(quote *models.Quote, pending *pendingQuote) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// drop expired handles while we hold the lock
	now := time.Now()
	for id, pq := range p.quotes {
		if pq.quote.Expired(now) {
			delete(p.quotes, id)
		}
	}
	p.quotes[quote.QuoteID] = pending
}

func routeTokens(req *models.QuoteRequest) (common.Address, common.Address, error) {
	addrs, ok := tokenAddresses[strings.ToUpper(req.SourceToken)]
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("unknown token %s", req.SourceToken)
	}
	src, ok := addrs[req.SourceChain]
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("token %s unknown on %s", req.SourceToken, req.SourceChain)
	}
	dst, ok := addrs[req.DestinationChain]
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("token %s unknown on %s", req.SourceToken, req.DestinationChain)
	}
	return common.HexToAddress(src), common.HexToAddress(dst), nil
}

func parseAmount(s string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("not an integer amount: %q", s)
	}
	return v, nil
}

func parseSeconds(s string) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0
	}
	return v
}
