package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWallet is a connected account that "signs" by returning tx unchanged.
type fakeWallet common.Address

func (w fakeWallet) Address() common.Address { return common.Address(w) }

func (w fakeWallet) SignTx(tx *types.Transaction, _ *big.Int) (*types.Transaction, error) {
	return tx, nil
}

var (
	accountA = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	accountB = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	accountC = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")

	walletA = fakeWallet(accountA)
	walletB = fakeWallet(accountB)
	walletC = fakeWallet(accountC)
)

// fakeMarket is an in-memory marketplace ledger enforcing the same rules as
// the contract.
type fakeMarket struct {
	mu sync.Mutex

	items []domain.Item
	// reportedCount, when set, is returned by ItemCount instead of len(items).
	reportedCount uint64

	countErr  error
	getErr    map[uint64]error
	ownedErr  error
	submitErr error

	// afterGet runs after an item has been read but before it is returned.
	afterGet func(id uint64)

	countCalls  int
	getCalls    int
	ownedCalls  int
	submitCalls int
	getOrder    []uint64
	nonce       uint64
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{getErr: make(map[uint64]error)}
}

func (f *fakeMarket) ItemCount(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.reportedCount != 0 {
		return f.reportedCount, nil
	}
	return uint64(len(f.items)), nil
}

func (f *fakeMarket) GetItem(ctx context.Context, id uint64) (domain.Item, error) {
	f.mu.Lock()
	f.getCalls++
	f.getOrder = append(f.getOrder, id)
	if err := f.getErr[id]; err != nil {
		f.mu.Unlock()
		return domain.Item{}, err
	}
	if id == 0 || id > uint64(len(f.items)) {
		f.mu.Unlock()
		return domain.Item{}, fmt.Errorf("fake: item %d: %w", id, domain.ErrNotFound)
	}
	item := f.items[id-1]
	item.Price = new(big.Int).Set(item.Price)
	hook := f.afterGet
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if err := ctx.Err(); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func (f *fakeMarket) GetOwnedItemIDs(_ context.Context, owner common.Address) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownedCalls++
	if f.ownedErr != nil {
		return nil, f.ownedErr
	}
	var ids []uint64
	for _, it := range f.items {
		if it.Owner == owner {
			ids = append(ids, it.ID)
		}
	}
	return ids, nil
}

func (f *fakeMarket) Submit(_ context.Context, wallet domain.Wallet, sub domain.Submission) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++

	if wallet == nil {
		return domain.Receipt{}, domain.ErrUnauthorized
	}
	if f.submitErr != nil {
		return domain.Receipt{}, f.submitErr
	}
	caller := wallet.Address()

	switch sub.Action {
	case domain.ActionList:
		f.items = append(f.items, domain.Item{
			ID:     uint64(len(f.items)) + 1,
			Name:   sub.Name,
			Price:  new(big.Int).Set(sub.Price),
			Seller: caller,
			Owner:  caller,
		})
	case domain.ActionPurchase:
		if sub.ItemID == 0 || sub.ItemID > uint64(len(f.items)) {
			return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrSimulationFailure, domain.ErrNotFound)
		}
		it := &f.items[sub.ItemID-1]
		switch {
		case it.IsSold:
			return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrSimulationFailure, domain.ErrAlreadySold)
		case it.Owner == caller:
			return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrSimulationFailure, domain.ErrSelfPurchase)
		case sub.Value.Cmp(it.Price) < 0:
			return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrSimulationFailure, domain.ErrInsufficientPayment)
		}
		it.Owner = caller
		it.IsSold = true
	default:
		return domain.Receipt{}, domain.ErrSimulationFailure
	}

	f.nonce++
	return domain.Receipt{
		TxHash: common.BigToHash(new(big.Int).SetUint64(f.nonce)),
		Action: sub.Action,
		From:   caller,
		Nonce:  f.nonce - 1,
		Value:  sub.Value,
	}, nil
}

// seed lists items directly, bypassing Submit.
func (f *fakeMarket) seed(seller common.Address, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.items = append(f.items, domain.Item{
			ID:     uint64(len(f.items)) + 1,
			Name:   n,
			Price:  big.NewInt(1e18),
			Seller: seller,
			Owner:  seller,
		})
	}
}

func (f *fakeMarket) set(fn func(f *fakeMarket)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeMarket) counts() (count, get, owned, submit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countCalls, f.getCalls, f.ownedCalls, f.submitCalls
}

// confirmingMarket adds WaitMined to fakeMarket.
type confirmingMarket struct {
	*fakeMarket
	waitErr   error
	waitCalls int
}

func (c *confirmingMarket) WaitMined(context.Context, common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitCalls++
	return c.waitErr
}

// memCache is an in-memory domain.ViewCache.
type memCache struct {
	mu    sync.Mutex
	views map[common.Address]domain.Views
}

func newMemCache() *memCache {
	return &memCache{views: make(map[common.Address]domain.Views)}
}

func (c *memCache) Set(_ context.Context, v domain.Views) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[v.Account] = v
	return nil
}

func (c *memCache) Get(_ context.Context, account common.Address) (domain.Views, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[account]
	if !ok {
		return domain.Views{}, domain.ErrNotFound
	}
	return v, nil
}

func (c *memCache) Invalidate(_ context.Context, account common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, account)
	return nil
}

// memBus records published payloads per channel.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

// memActivity is an in-memory domain.ActivityStore.
type memActivity struct {
	mu   sync.Mutex
	rows []domain.Activity
}

func (s *memActivity) Record(_ context.Context, a domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = int64(len(s.rows)) + 1
	s.rows = append(s.rows, a)
	return nil
}

func (s *memActivity) List(_ context.Context, opts domain.ListOpts) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Activity, 0, len(s.rows))
	for _, r := range s.rows {
		if opts.Account != "" && r.Account != opts.Account {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// memLocks is an in-memory domain.LockManager.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]bool)}
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}
