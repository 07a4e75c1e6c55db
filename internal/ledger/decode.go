package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// itemFieldCount is the arity of the items(uint256) return tuple.
const itemFieldCount = 6

// decodeItem converts the raw items(id) output tuple into a domain.Item,
// checking arity and the type of every field.
func decodeItem(values []any) (domain.Item, error) {
	if len(values) != itemFieldCount {
		return domain.Item{}, fmt.Errorf("ledger: decode item: expected %d fields, got %d", itemFieldCount, len(values))
	}

	id, ok := values[0].(*big.Int)
	if !ok {
		return domain.Item{}, fieldTypeError("id", values[0])
	}
	name, ok := values[1].(string)
	if !ok {
		return domain.Item{}, fieldTypeError("name", values[1])
	}
	price, ok := values[2].(*big.Int)
	if !ok {
		return domain.Item{}, fieldTypeError("price", values[2])
	}
	seller, ok := values[3].(common.Address)
	if !ok {
		return domain.Item{}, fieldTypeError("seller", values[3])
	}
	owner, ok := values[4].(common.Address)
	if !ok {
		return domain.Item{}, fieldTypeError("owner", values[4])
	}
	isSold, ok := values[5].(bool)
	if !ok {
		return domain.Item{}, fieldTypeError("isSold", values[5])
	}

	if !id.IsUint64() {
		return domain.Item{}, fmt.Errorf("ledger: decode item: id %s out of range", id)
	}
	if price.Sign() < 0 {
		return domain.Item{}, fmt.Errorf("ledger: decode item: negative price %s", price)
	}

	return domain.Item{
		ID:     id.Uint64(),
		Name:   name,
		Price:  new(big.Int).Set(price),
		Seller: seller,
		Owner:  owner,
		IsSold: isSold,
	}, nil
}

func fieldTypeError(field string, v any) error {
	return fmt.Errorf("ledger: decode item: field %s has unexpected type %T", field, v)
}

// decodeIDs converts a uint256[] output into item ids, keeping ledger order.
func decodeIDs(values []any) ([]uint64, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("ledger: decode ids: expected 1 output, got %d", len(values))
	}
	raw, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: decode ids: unexpected type %T", values[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if v == nil || !v.IsUint64() {
			return nil, fmt.Errorf("ledger: decode ids: id %v out of range", v)
		}
		ids = append(ids, v.Uint64())
	}
	return ids, nil
}

// decodeCount converts a single uint256 output into a count.
func decodeCount(values []any) (uint64, error) {
	if len(values) != 1 {
		return 0, fmt.Errorf("ledger: decode count: expected 1 output, got %d", len(values))
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("ledger: decode count: unexpected type %T", values[0])
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("ledger: decode count: %s out of range", n)
	}
	return n.Uint64(), nil
}
