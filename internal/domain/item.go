package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NoAccount is the zero address. Operations taking an account treat it as
// "no connected account".
var NoAccount = common.Address{}

// Item is a decoded marketplace record as stored by the ledger. Price is in
// base units (18 implied decimals).
type Item struct {
	ID     uint64
	Name   string
	Price  *big.Int
	Seller common.Address
	Owner  common.Address
	IsSold bool
}

// ItemView is the client-side snapshot of an Item with the price rendered as
// a canonical decimal string.
type ItemView struct {
	ID     uint64         `json:"id"`
	Name   string         `json:"name"`
	Price  string         `json:"price"`
	Seller common.Address `json:"seller"`
	Owner  common.Address `json:"owner"`
	IsSold bool           `json:"isSold"`
}

// CheckPurchasable reports whether caller may buy the item. It is a
// presentation-level gate; the ledger still enforces its own rules.
func (v ItemView) CheckPurchasable(caller common.Address) error {
	if caller == NoAccount {
		return ErrUnauthorized
	}
	if v.IsSold {
		return ErrAlreadySold
	}
	// common.Address compares raw bytes, so hex casing never matters here.
	if v.Owner == caller {
		return ErrSelfPurchase
	}
	return nil
}

// Purchasable is the boolean form of CheckPurchasable.
func (v ItemView) Purchasable(caller common.Address) bool {
	return v.CheckPurchasable(caller) == nil
}
