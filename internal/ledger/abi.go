package ledger

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract entry points consumed by the client.
const (
	methodItemCount       = "itemCount"
	methodItems           = "items"
	methodGetItemsByOwner = "getItemsByOwner"
	methodListItem        = "listItem"
	methodPurchaseItem    = "purchaseItem"
)

var requiredMethods = []string{
	methodItemCount,
	methodItems,
	methodGetItemsByOwner,
	methodListItem,
	methodPurchaseItem,
}

//go:embed marketplace.abi.json
var marketplaceABI []byte

// DefaultABI returns the parsed marketplace ABI bundled with the binary.
func DefaultABI() (abi.ABI, error) {
	return parseABI(marketplaceABI)
}

// LoadABI reads an ABI JSON document from path. An empty path selects the
// bundled ABI. The schema must expose every entry point the client calls.
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return DefaultABI()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("ledger: read abi %s: %w", path, err)
	}
	return parseABI(data)
}

func parseABI(data []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("ledger: parse abi: %w", err)
	}
	if err := checkABI(parsed); err != nil {
		return abi.ABI{}, err
	}
	return parsed, nil
}

func checkABI(parsed abi.ABI) error {
	for _, name := range requiredMethods {
		if _, ok := parsed.Methods[name]; !ok {
			return fmt.Errorf("ledger: abi is missing method %q", name)
		}
	}
	if !parsed.Methods[methodPurchaseItem].IsPayable() {
		return fmt.Errorf("ledger: abi method %q must be payable", methodPurchaseItem)
	}
	return nil
}
