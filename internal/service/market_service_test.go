package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/event"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, name, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, name)
	return nil
}

type fakeExporter struct {
	items []domain.ItemView
}

func (e *fakeExporter) ExportCatalog(_ context.Context, items []domain.ItemView) (string, error) {
	e.items = items
	return "snapshots/catalog/test.jsonl", nil
}

type serviceFixture struct {
	market   *fakeMarket
	cache    *memCache
	bus      *memBus
	activity *memActivity
	locks    *memLocks
	notifier *recordingNotifier
	exporter *fakeExporter
	svc      *MarketService
}

func newServiceFixture(wallet domain.Wallet) *serviceFixture {
	return newServiceFixtureWith(wallet, MarketConfig{})
}

func newServiceFixtureWith(wallet domain.Wallet, cfg MarketConfig) *serviceFixture {
	f := &serviceFixture{
		market:   newFakeMarket(),
		cache:    newMemCache(),
		bus:      newMemBus(),
		activity: &memActivity{},
		locks:    newMemLocks(),
		notifier: &recordingNotifier{},
		exporter: &fakeExporter{},
	}
	f.svc = NewMarketService(MarketDeps{
		Ledger:    f.market,
		Wallet:    wallet,
		Activity:  f.activity,
		Cache:     f.cache,
		Bus:       f.bus,
		Locks:     f.locks,
		Notifier:  f.notifier,
		Snapshots: f.exporter,
	}, cfg, discardLogger())
	return f
}

func TestMarketService_ListSideEffects(t *testing.T) {
	f := newServiceFixture(walletA)
	ctx := context.Background()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	receipt, err := f.svc.List(ctx, "Widget", "1.50")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	catalog := f.svc.Catalog(ctx)
	if len(catalog) != 1 || catalog[0].Price != "1.5" {
		t.Fatalf("Catalog() = %+v; want one item priced 1.5", catalog)
	}

	if len(f.activity.rows) != 1 {
		t.Fatalf("activity rows = %d; want 1", len(f.activity.rows))
	}
	row := f.activity.rows[0]
	if row.Action != domain.ActionList || row.Price != "1.5" || row.TxHash != receipt.TxHash.Hex() || row.Account != accountA.Hex() {
		t.Errorf("activity row = %+v", row)
	}

	if diff := cmp.Diff([]string{EventItemListed}, f.notifier.events); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
	if n := f.bus.count(event.ChannelCatalog); n < 2 {
		t.Errorf("catalog events = %d; want at least 2 (start + list)", n)
	}
	if n := f.bus.count(event.OwnedChannel(accountA.Hex())); n < 2 {
		t.Errorf("owned events = %d; want at least 2", n)
	}
	if f.bus.count(event.ChannelActivity) != 1 {
		t.Errorf("activity events = %d; want 1", f.bus.count(event.ChannelActivity))
	}

	cached, err := f.cache.Get(ctx, accountA)
	if err != nil {
		t.Fatalf("cache.Get() error = %v", err)
	}
	if diff := cmp.Diff(catalog, cached.Catalog); diff != "" {
		t.Errorf("cached catalog mismatch (-want +got):\n%s", diff)
	}

	// The lock is released after the call.
	if _, err := f.locks.Acquire(ctx, "submit:"+accountA.Hex(), time.Second); err != nil {
		t.Errorf("submission lock still held: %v", err)
	}
}

func TestMarketService_CatalogEventDecodes(t *testing.T) {
	f := newServiceFixture(walletA)
	ctx := context.Background()
	if _, err := f.svc.List(ctx, "Widget", "1"); err != nil {
		t.Fatal(err)
	}

	frames := f.bus.published[event.ChannelCatalog]
	e, err := event.Decode(frames[len(frames)-1])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	items, ok := e.Payload.([]any)
	if e.Type != event.TypeCatalog || !ok || len(items) != 1 {
		t.Fatalf("event = %+v; want catalog frame with one item", e)
	}
	if got := items[0].(map[string]any)["price"]; got != "1.0" {
		t.Errorf("payload price = %v; want 1.0", got)
	}
}

func TestMarketService_Purchase(t *testing.T) {
	f := newServiceFixture(walletB)
	f.market.seed(accountA, "Lamp")
	ctx := context.Background()
	_ = f.svc.Start(ctx)

	// The seller has a session of its own.
	if owned, err := f.svc.Owned(ctx, accountA); err != nil || len(owned) != 1 {
		t.Fatalf("Owned(A) = %+v, %v; want one item", owned, err)
	}

	if _, err := f.svc.Purchase(ctx, 1, "1.0"); err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}

	owned, err := f.svc.Owned(ctx, accountB)
	if err != nil || !containsID(owned, 1) {
		t.Errorf("Owned(B) = %+v, %v; want item 1", owned, err)
	}
	owned, err = f.svc.Owned(ctx, accountA)
	if err != nil || containsID(owned, 1) {
		t.Errorf("Owned(A) = %+v, %v; want item 1 gone from seller session", owned, err)
	}

	row := f.activity.rows[len(f.activity.rows)-1]
	if row.Action != domain.ActionPurchase || row.ItemID != 1 || row.Name != "Lamp" {
		t.Errorf("activity row = %+v", row)
	}
	if diff := cmp.Diff([]string{EventItemSold}, f.notifier.events); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestMarketService_Rejections(t *testing.T) {
	ctx := context.Background()

	ro := newServiceFixture(nil)
	if _, err := ro.svc.List(ctx, "Widget", "1"); !errors.Is(err, domain.ErrReadOnly) {
		t.Errorf("List(read-only) error = %v; want ErrReadOnly", err)
	}
	if _, err := ro.svc.Purchase(ctx, 1, "1"); !errors.Is(err, domain.ErrReadOnly) || !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("Purchase(read-only) error = %v; want ErrReadOnly and ErrUnauthorized", err)
	}
	if !ro.svc.ReadOnly() || ro.svc.Account() != domain.NoAccount {
		t.Errorf("read-only service: ReadOnly() = %v Account() = %s", ro.svc.ReadOnly(), ro.svc.Account().Hex())
	}

	busy := newServiceFixture(walletA)
	unlock, err := busy.locks.Acquire(ctx, "submit:"+accountA.Hex(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()
	if _, err := busy.svc.List(ctx, "Widget", "1"); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("List(locked) error = %v; want ErrLockHeld", err)
	}
	if _, _, _, submits := busy.market.counts(); submits != 0 {
		t.Errorf("Submit called %d times while locked; want 0", submits)
	}

	bad := newServiceFixture(walletA)
	if _, err := bad.svc.List(ctx, "Widget", "1.2.3"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("List(bad price) error = %v; want ErrInvalidAmount", err)
	}
	if len(bad.activity.rows) != 0 || len(bad.notifier.events) != 0 {
		t.Errorf("side effects ran for a failed list: %d rows, %d notifications", len(bad.activity.rows), len(bad.notifier.events))
	}
}

func TestMarketService_OwnedNoAccount(t *testing.T) {
	f := newServiceFixture(nil)
	if _, err := f.svc.Owned(context.Background(), domain.NoAccount); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("Owned(absent) error = %v; want ErrUnauthorized", err)
	}
}

func TestMarketService_SeedsFromCache(t *testing.T) {
	f := newServiceFixture(walletA)
	ctx := context.Background()
	cached := domain.Views{
		Account: accountA,
		Catalog: []domain.ItemView{{ID: 1, Name: "cached", Price: "3.0", Seller: accountA, Owner: accountA}},
	}
	if err := f.cache.Set(ctx, cached); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(cached.Catalog, f.svc.Catalog(ctx)); diff != "" {
		t.Errorf("Catalog() before load mismatch (-want +got):\n%s", diff)
	}
	if got := f.svc.Status(ctx); got.State != "uninitialized" || got.Items != 1 {
		t.Errorf("Status() = %+v; want uninitialized with 1 cached item", got)
	}
}

func TestMarketService_ActivityAndSnapshot(t *testing.T) {
	f := newServiceFixture(walletA)
	ctx := context.Background()
	if _, err := f.svc.List(ctx, "Widget", "1"); err != nil {
		t.Fatal(err)
	}

	rows, err := f.svc.Activity(ctx, domain.ListOpts{Account: accountA.Hex()})
	if err != nil || len(rows) != 1 {
		t.Errorf("Activity() = %+v, %v; want one row", rows, err)
	}

	path, err := f.svc.ExportSnapshot(ctx)
	if err != nil || path == "" {
		t.Fatalf("ExportSnapshot() = %q, %v", path, err)
	}
	if len(f.exporter.items) != 1 {
		t.Errorf("exported %d items; want 1", len(f.exporter.items))
	}

	bare := NewMarketService(MarketDeps{Ledger: newFakeMarket()}, MarketConfig{}, discardLogger())
	if _, err := bare.Activity(ctx, domain.ListOpts{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Activity(disabled) error = %v; want ErrNotFound", err)
	}
	if _, err := bare.ExportSnapshot(ctx); err == nil {
		t.Error("ExportSnapshot(disabled) error = nil; want error")
	}
}

func TestMarketService_RunStopsOnCancel(t *testing.T) {
	f := newServiceFixture(walletA)
	f.market.seed(accountA, "Widget")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := f.svc.Run(ctx, 5*time.Millisecond); err != nil {
		t.Errorf("Run() error = %v; want nil on cancel", err)
	}
	if len(f.svc.Catalog(context.Background())) != 1 {
		t.Errorf("Catalog() after Run = %+v; want refreshed item", f.svc.Catalog(context.Background()))
	}
	if err := f.svc.Run(context.Background(), 0); err == nil {
		t.Error("Run(0) error = nil; want error")
	}
}

func TestMarketService_RefreshReloadsOtherAccounts(t *testing.T) {
	f := newServiceFixture(walletA)
	f.market.seed(accountA, "Lamp")
	ctx := context.Background()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if owned, err := f.svc.Owned(ctx, accountC); err != nil || len(owned) != 0 {
		t.Fatalf("Owned(C) = %+v, %v; want empty", owned, err)
	}

	// C lists an item without going through this process.
	f.market.seed(accountC, "Vase")

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := f.svc.Run(runCtx, 5*time.Millisecond); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	owned, err := f.svc.Owned(ctx, accountC)
	if err != nil || !containsID(owned, 2) {
		t.Errorf("Owned(C) after periodic refresh = %+v, %v; want item 2", owned, err)
	}
	if n := f.bus.count(event.OwnedChannel(accountC.Hex())); n < 2 {
		t.Errorf("owned events for C = %d; want at least 2", n)
	}
}

func TestMarketService_OtherAccountsAreBounded(t *testing.T) {
	f := newServiceFixtureWith(walletA, MarketConfig{MaxSessions: 4})
	f.market.seed(accountA, "Lamp")
	ctx := context.Background()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	countBefore, getBefore, _, _ := f.market.counts()

	for i := range 100 {
		account := common.BigToAddress(big.NewInt(int64(1000 + i)))
		if _, err := f.svc.Owned(ctx, account); err != nil {
			t.Fatalf("Owned(%s) error = %v", account.Hex(), err)
		}
	}

	if n := f.svc.Sessions().Len(); n > 4 {
		t.Errorf("sessions = %d; want at most 4", n)
	}
	if _, ok := f.svc.Sessions().Lookup(accountA); !ok {
		t.Error("primary session was evicted")
	}
	count, get, _, _ := f.market.counts()
	if count != countBefore || get != getBefore {
		t.Errorf("owned lookups read the catalog: itemCount +%d, getItem +%d; want +0", count-countBefore, get-getBefore)
	}
	if got := f.svc.Catalog(ctx); len(got) != 1 {
		t.Errorf("Catalog() = %+v; want primary catalog intact", got)
	}
}

func TestMarketService_PriceAtLedgerDecimals(t *testing.T) {
	f := newServiceFixtureWith(walletA, MarketConfig{Sync: SyncConfig{Decimals: 24}})
	ctx := context.Background()

	for _, price := range []string{"1.50", "0.000000000000000000000001"} {
		if _, err := f.svc.List(ctx, "Widget", price); err != nil {
			t.Fatalf("List(%q) error = %v", price, err)
		}
	}

	var got []string
	for _, row := range f.activity.rows {
		got = append(got, row.Price)
	}
	want := []string{"1.5", "0.000000000000000000000001"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("activity prices mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionManager(t *testing.T) {
	m := NewSessionManager(newFakeMarket(), SyncConfig{}, nil, 0, discardLogger())
	ctx := context.Background()

	a := m.Session(ctx, accountA)
	if m.Session(ctx, accountA) != a {
		t.Error("Session() returned a new session for a known account")
	}
	if m.Session(ctx, accountB) == a {
		t.Error("Session() shared a session across accounts")
	}
	if _, ok := m.Lookup(accountC); ok {
		t.Error("Lookup(unknown) = true")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d; want 2", m.Len())
	}
	if got := m.Accounts(); len(got) != 2 || got[0].Cmp(got[1]) >= 0 {
		t.Errorf("Accounts() = %v; want 2 sorted accounts", got)
	}
}

func TestSessionManager_EvictsLeastRecentlyUsed(t *testing.T) {
	m := NewSessionManager(newFakeMarket(), SyncConfig{}, nil, 2, discardLogger())
	m.Pin(accountA)
	ctx := context.Background()

	m.Session(ctx, accountA)
	m.Session(ctx, accountB)
	m.Session(ctx, accountC) // evicts B; A is pinned

	if _, ok := m.Lookup(accountB); ok {
		t.Error("B still present after eviction")
	}
	if _, ok := m.Lookup(accountA); !ok {
		t.Error("pinned A was evicted")
	}

	m.Session(ctx, accountA)
	m.Session(ctx, accountB) // evicts C, the least recently used unpinned session
	if _, ok := m.Lookup(accountC); ok {
		t.Error("C still present after eviction")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d; want 2", m.Len())
	}
}
