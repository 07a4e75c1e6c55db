package domain

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestItemView_CheckPurchasable(t *testing.T) {
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	tests := []struct {
		name   string
		view   ItemView
		caller common.Address
		want   error
	}{
		{"open item, other caller", ItemView{Owner: alice}, bob, nil},
		{"no account", ItemView{Owner: alice}, NoAccount, ErrUnauthorized},
		{"sold", ItemView{Owner: bob, IsSold: true}, alice, ErrAlreadySold},
		{"sold wins over self", ItemView{Owner: alice, IsSold: true}, alice, ErrAlreadySold},
		{"own item", ItemView{Owner: alice}, alice, ErrSelfPurchase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.view.CheckPurchasable(tt.caller)
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Errorf("CheckPurchasable() = %v; want %v", err, tt.want)
			}
			if got := tt.view.Purchasable(tt.caller); got != (tt.want == nil) {
				t.Errorf("Purchasable() = %v; want %v", got, tt.want == nil)
			}
		})
	}
}

func TestItemView_CaseInsensitiveOwner(t *testing.T) {
	lower := common.HexToAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	checksummed := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	v := ItemView{Owner: lower}
	if v.Purchasable(checksummed) {
		t.Error("owner must match regardless of hex casing")
	}
}

func TestErrReadOnly_IsUnauthorized(t *testing.T) {
	if !errors.Is(ErrReadOnly, ErrUnauthorized) {
		t.Errorf("errors.Is(ErrReadOnly, ErrUnauthorized) = false; want true")
	}
	if errors.Is(ErrUnauthorized, ErrReadOnly) {
		t.Errorf("errors.Is(ErrUnauthorized, ErrReadOnly) = true; want false")
	}
}
