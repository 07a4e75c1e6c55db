package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/units"
)

// SyncState is the lifecycle state of a Synchronizer.
type SyncState int32

const (
	StateUninitialized SyncState = iota
	StateLoading
	StateReady
)

func (s SyncState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("SyncState(%d)", int32(s))
	}
}

// SyncConfig tunes a Synchronizer.
type SyncConfig struct {
	// FetchConcurrency bounds parallel item reads within one refresh.
	// Values <= 1 fetch sequentially.
	FetchConcurrency int
	// AwaitConfirmation makes mutations wait for the transaction to be
	// mined before refreshing, when the ledger can report that.
	AwaitConfirmation bool
	// Decimals is the number of implied decimals of the ledger currency.
	Decimals int
	// MaxItems is the largest item count a catalog refresh accepts from the
	// ledger. Zero selects defaultMaxItems.
	MaxItems uint64
}

const defaultMaxItems = 100_000

// Synchronizer keeps a catalog view and an owned-items view in step with the
// ledger for one session. Views are rebuilt in full on every refresh and
// replaced wholesale; a refresh that fails publishes nothing.
//
// Each refresh takes a request token when it starts and publishes only if
// that token is still the latest issued for its view, so a slow refresh can
// never overwrite the result of one started after it.
type Synchronizer struct {
	ledger domain.Ledger
	cfg    SyncConfig
	logger *slog.Logger

	mu           sync.Mutex
	state        SyncState
	account      common.Address
	catalog      []domain.ItemView
	owned        []domain.ItemView
	updatedAt    time.Time
	catalogToken uint64
	ownedToken   uint64
	loadToken    uint64
}

// NewSynchronizer creates a Synchronizer in the Uninitialized state.
func NewSynchronizer(ledger domain.Ledger, cfg SyncConfig, logger *slog.Logger) *Synchronizer {
	if cfg.Decimals <= 0 {
		cfg.Decimals = units.EtherDecimals
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = defaultMaxItems
	}
	return &Synchronizer{
		ledger: ledger,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "catalog_sync")),
	}
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Account returns the connected account, or domain.NoAccount.
func (s *Synchronizer) Account() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Catalog returns the last published catalog view.
func (s *Synchronizer) Catalog() []domain.ItemView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.catalog)
}

// Owned returns the last published owned-items view.
func (s *Synchronizer) Owned() []domain.ItemView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.owned)
}

// Snapshot returns both views and the session account in one consistent read.
func (s *Synchronizer) Snapshot() domain.Views {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Views{
		Account:   s.account,
		Catalog:   slices.Clone(s.catalog),
		Owned:     slices.Clone(s.owned),
		UpdatedAt: s.updatedAt,
	}
}

// Seed publishes previously cached views into a session that has not started
// any refresh yet. It reports whether the views were applied.
func (s *Synchronizer) Seed(views domain.Views) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized || s.catalogToken != 0 || s.ownedToken != 0 {
		return false
	}
	s.account = views.Account
	s.catalog = slices.Clone(views.Catalog)
	s.owned = slices.Clone(views.Owned)
	s.updatedAt = views.UpdatedAt
	return true
}

// Load (re)initializes the session for account: it enters Loading, refreshes
// both views and ends in Ready even if a refresh failed. Switching account
// drops the previous account's owned view before anything is fetched.
func (s *Synchronizer) Load(ctx context.Context, account common.Address) error {
	token := s.enterLoading(account)
	s.logger.InfoContext(ctx, "catalog_sync: loading",
		slog.String("account", account.Hex()),
	)

	var g errgroup.Group
	g.Go(func() error { return s.RefreshCatalog(ctx) })
	g.Go(func() error { return s.RefreshOwned(ctx, account) })
	err := g.Wait()

	s.leaveLoading(token)
	if err != nil {
		return fmt.Errorf("catalog_sync: load: %w", err)
	}
	return nil
}

// LoadOwned is Load for a session that only tracks what account owns: the
// catalog view is neither fetched nor touched.
func (s *Synchronizer) LoadOwned(ctx context.Context, account common.Address) error {
	token := s.enterLoading(account)
	err := s.RefreshOwned(ctx, account)
	s.leaveLoading(token)
	if err != nil {
		return fmt.Errorf("catalog_sync: load owned: %w", err)
	}
	return nil
}

func (s *Synchronizer) enterLoading(account common.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadToken++
	if s.account != account {
		s.owned = nil
		// Supersede any owned refresh still running for the old account.
		s.ownedToken++
	}
	s.account = account
	s.state = StateLoading
	return s.loadToken
}

func (s *Synchronizer) leaveLoading(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadToken == token {
		s.state = StateReady
	}
}

// RefreshCatalog rebuilds the catalog view from items 1..itemCount.
func (s *Synchronizer) RefreshCatalog(ctx context.Context) error {
	token := s.issue(&s.catalogToken)

	count, err := s.ledger.ItemCount(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: item count failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("catalog_sync: refresh catalog: %w", err)
	}
	if count > s.cfg.MaxItems {
		s.logger.WarnContext(ctx, "catalog_sync: item count over limit, keeping previous view",
			slog.Uint64("item_count", count),
			slog.Uint64("max_items", s.cfg.MaxItems),
		)
		return fmt.Errorf("catalog_sync: refresh catalog: item count %d exceeds %d: %w",
			count, s.cfg.MaxItems, domain.ErrTransportFailure)
	}

	ids := make([]uint64, 0, count)
	for id := uint64(1); id <= count; id++ {
		ids = append(ids, id)
	}

	views, err := s.fetchItems(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: catalog refresh failed, keeping previous view",
			slog.Uint64("item_count", count),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("catalog_sync: refresh catalog: %w", err)
	}

	s.mu.Lock()
	published := s.catalogToken == token
	if published {
		s.catalog = views
		s.updatedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	if !published {
		s.logger.DebugContext(ctx, "catalog_sync: discarded superseded catalog refresh",
			slog.Uint64("token", token),
		)
		return nil
	}
	s.logger.DebugContext(ctx, "catalog_sync: catalog published",
		slog.Int("items", len(views)),
	)
	return nil
}

// RefreshOwned rebuilds the owned view for account. An absent account is a
// no-op that touches neither the ledger nor the view.
func (s *Synchronizer) RefreshOwned(ctx context.Context, account common.Address) error {
	if account == domain.NoAccount {
		return nil
	}
	token := s.issue(&s.ownedToken)

	ids, err := s.ledger.GetOwnedItemIDs(ctx, account)
	if err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: owned ids failed",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("catalog_sync: refresh owned: %w", err)
	}

	views, err := s.fetchItems(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: owned refresh failed, keeping previous view",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("catalog_sync: refresh owned: %w", err)
	}

	s.mu.Lock()
	published := s.ownedToken == token
	if published {
		s.owned = views
		s.updatedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	if !published {
		s.logger.DebugContext(ctx, "catalog_sync: discarded superseded owned refresh",
			slog.String("account", account.Hex()),
			slog.Uint64("token", token),
		)
	}
	return nil
}

// List submits a new listing and, once the ledger accepts it, rebuilds the
// catalog. The new item only appears through that refresh.
func (s *Synchronizer) List(ctx context.Context, wallet domain.Wallet, name, priceDecimal string) (domain.Receipt, error) {
	price, err := units.ToBaseUnits(priceDecimal, s.cfg.Decimals)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("catalog_sync: list: %w", err)
	}

	receipt, err := s.ledger.Submit(ctx, wallet, domain.Submission{
		Action: domain.ActionList,
		Name:   name,
		Price:  price,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: list rejected",
			slog.String("name", name),
			slog.String("price", priceDecimal),
			slog.String("error", err.Error()),
		)
		return domain.Receipt{}, fmt.Errorf("catalog_sync: list: %w", err)
	}

	s.logger.InfoContext(ctx, "catalog_sync: list submitted",
		slog.String("tx", receipt.TxHash.Hex()),
		slog.String("name", name),
		slog.String("price", priceDecimal),
	)

	if err := s.awaitMined(ctx, receipt); err != nil {
		return receipt, fmt.Errorf("catalog_sync: list: %w", err)
	}
	if err := s.RefreshCatalog(ctx); err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: post-list refresh failed",
			slog.String("tx", receipt.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return receipt, nil
}

// Purchase buys item id for priceDecimal, attached as payment. Items the
// current catalog view shows as sold or owned by the caller are refused
// before anything is submitted. On success the catalog is refreshed first,
// then the caller's owned view.
func (s *Synchronizer) Purchase(ctx context.Context, wallet domain.Wallet, id uint64, priceDecimal string) (domain.Receipt, error) {
	value, err := units.ToBaseUnits(priceDecimal, s.cfg.Decimals)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("catalog_sync: purchase %d: %w", id, err)
	}
	if wallet == nil {
		return domain.Receipt{}, fmt.Errorf("catalog_sync: purchase %d: %w", id, domain.ErrUnauthorized)
	}
	caller := wallet.Address()

	if view, ok := s.catalogItem(id); ok {
		if err := view.CheckPurchasable(caller); err != nil {
			return domain.Receipt{}, fmt.Errorf("catalog_sync: purchase %d: %w", id, err)
		}
	}

	receipt, err := s.ledger.Submit(ctx, wallet, domain.Submission{
		Action: domain.ActionPurchase,
		ItemID: id,
		Value:  value,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: purchase rejected",
			slog.Uint64("item_id", id),
			slog.String("price", priceDecimal),
			slog.String("error", err.Error()),
		)
		return domain.Receipt{}, fmt.Errorf("catalog_sync: purchase %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "catalog_sync: purchase submitted",
		slog.String("tx", receipt.TxHash.Hex()),
		slog.Uint64("item_id", id),
		slog.String("buyer", caller.Hex()),
	)

	if err := s.awaitMined(ctx, receipt); err != nil {
		return receipt, fmt.Errorf("catalog_sync: purchase %d: %w", id, err)
	}
	if err := s.RefreshCatalog(ctx); err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: post-purchase catalog refresh failed",
			slog.String("tx", receipt.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if err := s.RefreshOwned(ctx, caller); err != nil {
		s.logger.WarnContext(ctx, "catalog_sync: post-purchase owned refresh failed",
			slog.String("tx", receipt.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return receipt, nil
}

// issue bumps a view's request token and returns the new value.
func (s *Synchronizer) issue(token *uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	*token++
	return *token
}

func (s *Synchronizer) catalogItem(id uint64) (domain.ItemView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.catalog {
		if v.ID == id {
			return v, true
		}
	}
	return domain.ItemView{}, false
}

// awaitMined blocks until receipt is mined when confirmation is enabled and
// the ledger supports it.
func (s *Synchronizer) awaitMined(ctx context.Context, receipt domain.Receipt) error {
	if !s.cfg.AwaitConfirmation {
		return nil
	}
	confirmer, ok := s.ledger.(domain.Confirmer)
	if !ok {
		return nil
	}
	if err := confirmer.WaitMined(ctx, receipt.TxHash); err != nil {
		if errors.Is(err, domain.ErrTransactionReverted) {
			s.logger.WarnContext(ctx, "catalog_sync: transaction reverted",
				slog.String("tx", receipt.TxHash.Hex()),
				slog.String("action", string(receipt.Action)),
			)
		}
		return err
	}
	return nil
}

// fetchItems reads ids in order and converts them to views. Reads are issued
// in increasing position order; with FetchConcurrency > 1 up to that many run
// at once and results are slotted by position. Any failure aborts the batch.
func (s *Synchronizer) fetchItems(ctx context.Context, ids []uint64) ([]domain.ItemView, error) {
	views := make([]domain.ItemView, len(ids))

	if s.cfg.FetchConcurrency <= 1 {
		for i, id := range ids {
			item, err := s.ledger.GetItem(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", id, err)
			}
			views[i] = s.toView(item)
		}
		return views, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			item, err := s.ledger.GetItem(gctx, id)
			if err != nil {
				return fmt.Errorf("item %d: %w", id, err)
			}
			views[i] = s.toView(item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Synchronizer) toView(item domain.Item) domain.ItemView {
	return domain.ItemView{
		ID:     item.ID,
		Name:   item.Name,
		Price:  units.ToDecimalString(item.Price, s.cfg.Decimals),
		Seller: item.Seller,
		Owner:  item.Owner,
		IsSold: item.IsSold,
	}
}
