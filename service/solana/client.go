package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/slotburst/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrConnection indicates that no ledger endpoint was reachable. It is fatal
// at startup and never recovered within a cycle.
var ErrConnection = errors.New("solana endpoint unreachable")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana
// nodes. *rpc.Client satisfies it directly.
type RPCClient interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		transactionSignatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetHealth(ctx context.Context) (string, error)
}

// NewRPCClient creates an RPCClient for the given endpoint. For premium RPC
// endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return rpc.New(rpcURL)
}

// Blockhash is the freshness token embedded in a transaction before signing.
// It expires after roughly 150 slots, so it is fetched once per cycle,
// immediately after the slot boundary, and discarded after the burst.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
	Slot                 uint64 // slot the hash was observed at
}

// Client wraps an RPC endpoint with the domain-specific operations the engine
// needs, recording metrics per call. If metrics is nil, none are recorded.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // endpoint identifier for logs/metrics (e.g. rpc host)
}

// NewClient creates a new Solana client. The endpoint parameter is used for
// metrics and log labeling.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// Endpoint returns the endpoint identifier this client was created with.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CurrentSlot returns the ledger's current slot at confirmed commitment.
func (c *Client) CurrentSlot(ctx context.Context) (uint64, error) {
	start := time.Now()
	slot, err := c.rpc.GetSlot(ctx, rpc.CommitmentConfirmed)
	c.record("GetSlot", err, time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("%w: get slot via %s: %v", ErrConnection, c.endpoint, err)
	}
	return slot, nil
}

// FetchBlockhash fetches a fresh blockhash at confirmed commitment.
func (c *Client) FetchBlockhash(ctx context.Context) (*Blockhash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.record("GetLatestBlockhash", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash via %s: %w", c.endpoint, err)
	}
	return &Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
		Slot:                 out.Context.Slot,
	}, nil
}

// SendTransaction submits a fully signed transaction. Preflight is skipped:
// the burst is timed against the slot boundary and a preflight simulation
// would spend exactly the budget we are trying to save, so rejection is left
// to the leader.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.record("SendTransaction", err, time.Since(start))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send via %s: %w", c.endpoint, err)
	}
	return sig, nil
}

// SignatureStatuses returns the confirmation status for each signature, in
// the same order. Entries are nil for signatures the node does not know.
func (c *Client) SignatureStatuses(ctx context.Context, sigs []solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sigs...)
	c.record("GetSignatureStatuses", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("signature statuses via %s: %w", c.endpoint, err)
	}
	return out.Value, nil
}

// Health issues a cheap round-trip probe against the endpoint.
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	out, err := c.rpc.GetHealth(ctx)
	elapsed := time.Since(start)
	c.record("GetHealth", err, elapsed)
	c.metrics.RecordChannelProbe(c.endpoint, elapsed.Seconds())
	if err != nil {
		return fmt.Errorf("health probe via %s: %w", c.endpoint, err)
	}
	if out != rpc.HealthOk {
		return fmt.Errorf("endpoint %s unhealthy: %s", c.endpoint, out)
	}
	return nil
}

func (c *Client) record(method string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, elapsed.Seconds())
}
