package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Action names a state-changing ledger entry point.
type Action string

const (
	ActionList     Action = "list"
	ActionPurchase Action = "purchase"
)

// Submission carries the arguments of one state-changing call. List uses
// Name and Price; Purchase uses ItemID and Value.
type Submission struct {
	Action Action
	Name   string
	Price  *big.Int
	ItemID uint64
	Value  *big.Int
}

// Receipt describes a transaction the ledger accepted for inclusion. It is
// returned at acceptance, before the transaction is mined.
type Receipt struct {
	TxHash      common.Hash    `json:"txHash"`
	Action      Action         `json:"action"`
	From        common.Address `json:"from"`
	Nonce       uint64         `json:"nonce"`
	Value       *big.Int       `json:"value,omitempty"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// Wallet is the caller identity: it names an account and signs transactions
// on its behalf. A nil Wallet means no account is connected.
type Wallet interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Ledger is the read/write surface of the marketplace contract.
type Ledger interface {
	ItemCount(ctx context.Context) (uint64, error)
	GetItem(ctx context.Context, id uint64) (Item, error)
	GetOwnedItemIDs(ctx context.Context, owner common.Address) ([]uint64, error)
	Submit(ctx context.Context, wallet Wallet, sub Submission) (Receipt, error)
}

// Confirmer is implemented by ledgers that can block until a submitted
// transaction is mined.
type Confirmer interface {
	WaitMined(ctx context.Context, txHash common.Hash) error
}
