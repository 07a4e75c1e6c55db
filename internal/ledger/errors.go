package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// revertKinds maps revert-reason fragments to error kinds. The first match
// wins, so more specific fragments come first.
var revertKinds = []struct {
	fragment string
	kind     error
}{
	{"already sold", domain.ErrAlreadySold},
	{"sold", domain.ErrAlreadySold},
	{"own item", domain.ErrSelfPurchase},
	{"seller cannot", domain.ErrSelfPurchase},
	{"insufficient", domain.ErrInsufficientPayment},
	{"not enough", domain.ErrInsufficientPayment},
	{"incorrect price", domain.ErrInsufficientPayment},
	{"payment", domain.ErrInsufficientPayment},
	{"does not exist", domain.ErrNotFound},
	{"not exist", domain.ErrNotFound},
	{"invalid item", domain.ErrNotFound},
	{"not found", domain.ErrNotFound},
	{"unauthorized", domain.ErrUnauthorized},
	{"not owner", domain.ErrUnauthorized},
}

// isRejection reports whether err is the node refusing the call itself
// (revert or pre-execution check) rather than a failure to reach it.
func isRejection(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "revert") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "gas required exceeds")
}

// revertReason extracts a human-readable reason from a rejection. It prefers
// ABI-encoded Error(string) data and falls back to the message text.
func revertReason(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if _, after, ok := strings.Cut(msg, "execution reverted: "); ok {
		return after
	}
	return msg
}

// kindForReason returns the error kind a revert reason maps to, or nil.
func kindForReason(reason string) error {
	lower := strings.ToLower(reason)
	for _, rk := range revertKinds {
		if strings.Contains(lower, rk.fragment) {
			return rk.kind
		}
	}
	return nil
}

// simulationError wraps a dry-run failure. Rejections become
// ErrSimulationFailure plus the decoded kind; anything else is transport.
func simulationError(action domain.Action, err error) error {
	if !isRejection(err) {
		return fmt.Errorf("ledger: simulate %s: %w: %w", action, domain.ErrTransportFailure, err)
	}
	reason := revertReason(err)
	if kind := kindForReason(reason); kind != nil {
		return fmt.Errorf("ledger: simulate %s: %w: %w: %s", action, domain.ErrSimulationFailure, kind, reason)
	}
	return fmt.Errorf("ledger: simulate %s: %w: %s", action, domain.ErrSimulationFailure, reason)
}

// transportError wraps a failed round trip to the node.
func transportError(op string, err error) error {
	return fmt.Errorf("ledger: %s: %w: %w", op, domain.ErrTransportFailure, err)
}
