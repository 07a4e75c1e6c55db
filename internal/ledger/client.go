// Package ledger is a typed client for the marketplace contract. It encodes
// calls with the contract ABI, talks to an Ethereum JSON-RPC node, and
// decodes raw return tuples into domain values. The client holds no state
// beyond its configuration; every call is a fresh round trip.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const (
	// gasMarginPercent pads the dry-run gas estimate.
	gasMarginPercent = 20
	// defaultPollInterval is how often WaitMined polls for a receipt.
	defaultPollInterval = time.Second
)

// Backend is the subset of the JSON-RPC API the client uses. *ethclient.Client
// satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config identifies the contract the client talks to.
type Config struct {
	Address common.Address
	ABI     abi.ABI
	ChainID *big.Int
	// CallTimeout bounds each RPC round trip. Zero means no extra bound.
	CallTimeout time.Duration
	// PollInterval is the receipt polling period for WaitMined.
	PollInterval time.Duration
}

// Client implements domain.Ledger and domain.Confirmer.
type Client struct {
	backend      Backend
	address      common.Address
	abi          abi.ABI
	chainID      *big.Int
	callTimeout  time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// New creates a Client over an existing backend.
func New(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger: backend is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("ledger: contract address is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("ledger: chain id must be positive")
	}
	if err := checkABI(cfg.ABI); err != nil {
		return nil, err
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		backend:      backend,
		address:      cfg.Address,
		abi:          cfg.ABI,
		chainID:      new(big.Int).Set(cfg.ChainID),
		callTimeout:  cfg.CallTimeout,
		pollInterval: poll,
		now:          time.Now,
	}, nil
}

// Dial connects to the JSON-RPC endpoint at rpcURL and returns a Client plus
// the underlying connection, which the caller must close.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Client, *ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, transportError("dial", err)
	}

	if cfg.ChainID == nil {
		id, err := ec.ChainID(ctx)
		if err != nil {
			ec.Close()
			return nil, nil, transportError("chain id", err)
		}
		cfg.ChainID = id
	}

	c, err := New(ec, cfg)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return c, ec, nil
}

// Address returns the contract address.
func (c *Client) Address() common.Address {
	return c.address
}

// ItemCount returns the number of listed items.
func (c *Client) ItemCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, methodItemCount)
	if err != nil {
		return 0, err
	}
	return decodeCount(out)
}

// GetItem fetches one item. Ids start at 1; id 0 and ids past the current
// count (which the contract returns as zero-valued records) are
// domain.ErrNotFound.
func (c *Client) GetItem(ctx context.Context, id uint64) (domain.Item, error) {
	if id == 0 {
		return domain.Item{}, fmt.Errorf("ledger: item 0: %w", domain.ErrNotFound)
	}
	out, err := c.call(ctx, methodItems, new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Item{}, err
	}
	item, err := decodeItem(out)
	if err != nil {
		return domain.Item{}, err
	}
	if item.ID == 0 {
		return domain.Item{}, fmt.Errorf("ledger: item %d: %w", id, domain.ErrNotFound)
	}
	if item.ID != id {
		return domain.Item{}, fmt.Errorf("ledger: item %d: record carries id %d", id, item.ID)
	}
	return item, nil
}

// GetOwnedItemIDs returns the ids of the items owned by owner in ledger order.
func (c *Client) GetOwnedItemIDs(ctx context.Context, owner common.Address) ([]uint64, error) {
	out, err := c.call(ctx, methodGetItemsByOwner, owner)
	if err != nil {
		return nil, err
	}
	return decodeIDs(out)
}

// Submit dry-runs a state-changing call as the wallet's account and, if the
// node accepts it, signs and broadcasts the transaction. A dry-run rejection
// is returned as domain.ErrSimulationFailure and nothing is broadcast.
// Submit returns once the node accepts the transaction, not once it is mined.
func (c *Client) Submit(ctx context.Context, wallet domain.Wallet, sub domain.Submission) (domain.Receipt, error) {
	if wallet == nil {
		return domain.Receipt{}, fmt.Errorf("ledger: submit %s: %w", sub.Action, domain.ErrUnauthorized)
	}
	from := wallet.Address()
	if from == (common.Address{}) {
		return domain.Receipt{}, fmt.Errorf("ledger: submit %s: %w", sub.Action, domain.ErrUnauthorized)
	}

	method, args, value, err := encodeSubmission(sub)
	if err != nil {
		return domain.Receipt{}, err
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: submit %s: %w: pack: %v", sub.Action, domain.ErrSimulationFailure, err)
	}

	msg := ethereum.CallMsg{
		From:  from,
		To:    &c.address,
		Value: value,
		Data:  data,
	}

	// Phase 1: dry run.
	gas, err := c.simulate(ctx, sub.Action, msg)
	if err != nil {
		return domain.Receipt{}, err
	}

	// Phase 2: sign and broadcast.
	nonce, err := c.pendingNonce(ctx, from)
	if err != nil {
		return domain.Receipt{}, err
	}
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas + gas*gasMarginPercent/100,
		To:       &c.address,
		Value:    value,
		Data:     data,
	})

	signed, err := wallet.SignTx(tx, c.chainID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: sign %s: %w: %w", sub.Action, domain.ErrUnauthorized, err)
	}

	if err := c.send(ctx, signed); err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: submit %s: %w", sub.Action, err)
	}

	receipt := domain.Receipt{
		TxHash:      signed.Hash(),
		Action:      sub.Action,
		From:        from,
		Nonce:       nonce,
		SubmittedAt: c.now().UTC(),
	}
	if value != nil && value.Sign() > 0 {
		receipt.Value = new(big.Int).Set(value)
	}
	return receipt, nil
}

// WaitMined blocks until txHash has a receipt. A failed receipt is
// domain.ErrTransactionReverted.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("ledger: tx %s: %w", txHash.Hex(), domain.ErrTransactionReverted)
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet.
		default:
			return transportError("receipt "+txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("ledger: wait for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// encodeSubmission validates a submission and returns the contract method,
// its arguments, and the attached value.
func encodeSubmission(sub domain.Submission) (string, []any, *big.Int, error) {
	switch sub.Action {
	case domain.ActionList:
		if strings.TrimSpace(sub.Name) == "" {
			return "", nil, nil, fmt.Errorf("ledger: submit list: %w: item name is empty", domain.ErrSimulationFailure)
		}
		if sub.Price == nil || sub.Price.Sign() < 0 {
			return "", nil, nil, fmt.Errorf("ledger: submit list: %w: %w", domain.ErrSimulationFailure, domain.ErrInvalidAmount)
		}
		return methodListItem, []any{sub.Name, new(big.Int).Set(sub.Price)}, nil, nil

	case domain.ActionPurchase:
		if sub.ItemID == 0 {
			return "", nil, nil, fmt.Errorf("ledger: submit purchase: %w: %w", domain.ErrSimulationFailure, domain.ErrNotFound)
		}
		if sub.Value == nil || sub.Value.Sign() < 0 {
			return "", nil, nil, fmt.Errorf("ledger: submit purchase: %w: %w", domain.ErrSimulationFailure, domain.ErrInvalidAmount)
		}
		return methodPurchaseItem, []any{new(big.Int).SetUint64(sub.ItemID)}, new(big.Int).Set(sub.Value), nil

	default:
		return "", nil, nil, fmt.Errorf("ledger: %w: unknown action %q", domain.ErrSimulationFailure, sub.Action)
	}
}

// call performs an eth_call against a view method and unpacks the result.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		if isRejection(err) {
			reason := revertReason(err)
			if kind := kindForReason(reason); kind != nil {
				return nil, fmt.Errorf("ledger: call %s: %w: %s", method, kind, reason)
			}
			return nil, fmt.Errorf("ledger: call %s: reverted: %s", method, reason)
		}
		return nil, transportError("call "+method, err)
	}

	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) simulate(ctx context.Context, action domain.Action, msg ethereum.CallMsg) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		return 0, simulationError(action, err)
	}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, simulationError(action, err)
	}
	return gas, nil
}

func (c *Client) pendingNonce(ctx context.Context, from common.Address) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, transportError("pending nonce", err)
	}
	return nonce, nil
}

func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, transportError("gas price", err)
	}
	return price, nil
}

func (c *Client) send(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return transportError("send transaction", err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// Compile-time interface checks.
var (
	_ domain.Ledger    = (*Client)(nil)
	_ domain.Confirmer = (*Client)(nil)
)
