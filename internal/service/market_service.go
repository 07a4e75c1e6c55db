package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/event"
	"github.com/alanyoungcy/marketsync/internal/units"
)

// Notification event names.
const (
	EventItemListed = "item_listed"
	EventItemSold   = "item_sold"
)

const defaultLockTTL = 2 * time.Minute

// Notifier delivers operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketDeps are the collaborators of a MarketService. Only Ledger is
// required; every other dependency is skipped when nil.
type MarketDeps struct {
	Ledger    domain.Ledger
	Wallet    domain.Wallet
	Activity  domain.ActivityStore
	Cache     domain.ViewCache
	Bus       domain.SignalBus
	Locks     domain.LockManager
	Notifier  Notifier
	Snapshots domain.SnapshotExporter
}

// MarketConfig tunes a MarketService.
type MarketConfig struct {
	Sync    SyncConfig
	LockTTL time.Duration
	// MaxSessions bounds the owned-view sessions kept for other accounts.
	MaxSessions int
}

// Status summarizes the primary session.
type Status struct {
	Account   common.Address `json:"account"`
	ReadOnly  bool           `json:"readOnly"`
	State     string         `json:"state"`
	Items     int            `json:"items"`
	Owned     int            `json:"owned"`
	Sessions  int            `json:"sessions"`
	UpdatedAt time.Time      `json:"updatedAt"`
	StartedAt time.Time      `json:"startedAt"`
}

// MarketService fronts the primary session (the configured wallet's account,
// or no account when read-only) and runs the side effects around each
// accepted mutation: submission lock, activity log, alerts, bus events and
// the view cache. Side-effect failures are logged and never fail the call.
//
// Other accounts get owned-only sessions: they never load the catalog, are
// refreshed with the primary session and are evicted when unused.
type MarketService struct {
	sessions  *SessionManager
	wallet    domain.Wallet
	activity  domain.ActivityStore
	cache     domain.ViewCache
	bus       domain.SignalBus
	locks     domain.LockManager
	notifier  Notifier
	snapshots domain.SnapshotExporter
	lockTTL   time.Duration
	decimals  int
	startedAt time.Time
	logger    *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(deps MarketDeps, cfg MarketConfig, logger *slog.Logger) *MarketService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Sync.Decimals <= 0 {
		cfg.Sync.Decimals = units.EtherDecimals
	}
	s := &MarketService{
		sessions:  NewSessionManager(deps.Ledger, cfg.Sync, deps.Cache, cfg.MaxSessions, logger),
		wallet:    deps.Wallet,
		activity:  deps.Activity,
		cache:     deps.Cache,
		bus:       deps.Bus,
		locks:     deps.Locks,
		notifier:  deps.Notifier,
		snapshots: deps.Snapshots,
		lockTTL:   cfg.LockTTL,
		decimals:  cfg.Sync.Decimals,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("component", "market_service")),
	}
	s.sessions.Pin(s.Account())
	return s
}

// Account returns the wallet account, or domain.NoAccount when read-only.
func (s *MarketService) Account() common.Address {
	if s.wallet == nil {
		return domain.NoAccount
	}
	return s.wallet.Address()
}

// ReadOnly reports whether no wallet is configured.
func (s *MarketService) ReadOnly() bool {
	return s.wallet == nil
}

// Sessions exposes the session registry.
func (s *MarketService) Sessions() *SessionManager {
	return s.sessions
}

func (s *MarketService) primary(ctx context.Context) *Synchronizer {
	return s.sessions.Session(ctx, s.Account())
}

// Start loads the primary session and publishes its views. A load failure is
// returned but leaves the service usable with whatever views it has.
func (s *MarketService) Start(ctx context.Context) error {
	err := s.Refresh(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: initial load incomplete",
			slog.String("error", err.Error()),
		)
	}
	return err
}

// Refresh reloads both views of the primary session, then the owned view of
// every other session, and publishes them. Only a primary failure is
// returned.
func (s *MarketService) Refresh(ctx context.Context) error {
	sess := s.primary(ctx)
	err := sess.Load(ctx, s.Account())
	s.publishViews(ctx, sess)

	for _, account := range s.sessions.Accounts() {
		if account == s.Account() {
			continue
		}
		other, ok := s.sessions.Lookup(account)
		if !ok {
			continue
		}
		s.loadOwned(ctx, other, account)
	}

	if err != nil {
		return fmt.Errorf("market_service: refresh: %w", err)
	}
	return nil
}

// Catalog returns the primary session's catalog view.
func (s *MarketService) Catalog(ctx context.Context) []domain.ItemView {
	return s.primary(ctx).Catalog()
}

// Owned returns the owned-items view for account. The wallet account is
// served from the primary session; any other account gets an owned-only
// session, loaded on first use.
func (s *MarketService) Owned(ctx context.Context, account common.Address) ([]domain.ItemView, error) {
	if account == domain.NoAccount {
		return nil, fmt.Errorf("market_service: owned: %w", domain.ErrUnauthorized)
	}
	if account == s.Account() {
		sess := s.primary(ctx)
		if sess.State() == StateUninitialized {
			if err := s.Refresh(ctx); err != nil {
				s.logger.WarnContext(ctx, "market_service: primary load failed",
					slog.String("error", err.Error()),
				)
			}
		}
		return sess.Owned(), nil
	}

	sess := s.sessions.Session(ctx, account)
	if sess.State() == StateUninitialized {
		s.loadOwned(ctx, sess, account)
	}
	return sess.Owned(), nil
}

// loadOwned rebuilds an owned-only session and publishes its view.
func (s *MarketService) loadOwned(ctx context.Context, sess *Synchronizer, account common.Address) {
	if err := sess.LoadOwned(ctx, account); err != nil {
		s.logger.WarnContext(ctx, "market_service: owned view load failed",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
	}
	s.publishOwned(ctx, sess)
}

// List lists a new item from the wallet account.
func (s *MarketService) List(ctx context.Context, name, price string) (domain.Receipt, error) {
	unlock, err := s.begin(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("market_service: list: %w", err)
	}
	defer unlock()

	sess := s.primary(ctx)
	receipt, err := sess.List(ctx, s.wallet, name, price)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("market_service: list: %w", err)
	}

	canonical := s.displayPrice(ctx, price)
	s.recordActivity(ctx, domain.Activity{
		Action:  domain.ActionList,
		Account: receipt.From.Hex(),
		Name:    name,
		Price:   canonical,
		TxHash:  receipt.TxHash.Hex(),
	})
	s.notify(ctx, EventItemListed, "Item listed",
		fmt.Sprintf("%s listed %q for %s ETH\ntx %s", receipt.From.Hex(), name, canonical, receipt.TxHash.Hex()))
	s.publishViews(ctx, sess)

	return receipt, nil
}

// Purchase buys item id from the wallet account, paying price.
func (s *MarketService) Purchase(ctx context.Context, id uint64, price string) (domain.Receipt, error) {
	unlock, err := s.begin(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("market_service: purchase: %w", err)
	}
	defer unlock()

	sess := s.primary(ctx)
	prev, known := sess.catalogItem(id)
	receipt, err := sess.Purchase(ctx, s.wallet, id, price)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("market_service: purchase: %w", err)
	}

	canonical := s.displayPrice(ctx, price)
	s.recordActivity(ctx, domain.Activity{
		Action:  domain.ActionPurchase,
		Account: receipt.From.Hex(),
		ItemID:  id,
		Name:    prev.Name,
		Price:   canonical,
		TxHash:  receipt.TxHash.Hex(),
	})
	s.notify(ctx, EventItemSold, "Item sold",
		fmt.Sprintf("%s bought item #%d %q for %s ETH\ntx %s", receipt.From.Hex(), id, prev.Name, canonical, receipt.TxHash.Hex()))
	s.publishViews(ctx, sess)

	if known && prev.Owner != receipt.From {
		s.refreshPreviousOwner(ctx, prev.Owner)
	}

	return receipt, nil
}

// Activity lists recorded submissions.
func (s *MarketService) Activity(ctx context.Context, opts domain.ListOpts) ([]domain.Activity, error) {
	if s.activity == nil {
		return nil, fmt.Errorf("market_service: activity log disabled: %w", domain.ErrNotFound)
	}
	rows, err := s.activity.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: activity: %w", err)
	}
	return rows, nil
}

// Status reports the primary session's state.
func (s *MarketService) Status(ctx context.Context) Status {
	sess := s.primary(ctx)
	snap := sess.Snapshot()
	return Status{
		Account:   s.Account(),
		ReadOnly:  s.ReadOnly(),
		State:     sess.State().String(),
		Items:     len(snap.Catalog),
		Owned:     len(snap.Owned),
		Sessions:  s.sessions.Len(),
		UpdatedAt: snap.UpdatedAt,
		StartedAt: s.startedAt,
	}
}

// ExportSnapshot writes the current catalog view to cold storage.
func (s *MarketService) ExportSnapshot(ctx context.Context) (string, error) {
	if s.snapshots == nil {
		return "", errors.New("market_service: snapshot export not configured")
	}
	path, err := s.snapshots.ExportCatalog(ctx, s.Catalog(ctx))
	if err != nil {
		return "", fmt.Errorf("market_service: export snapshot: %w", err)
	}
	s.logger.InfoContext(ctx, "market_service: snapshot exported", slog.String("path", path))
	return path, nil
}

// Run refreshes the primary session every interval until ctx is cancelled.
// Refresh failures are logged and retried on the next tick.
func (s *MarketService) Run(ctx context.Context, interval time.Duration) error {
	return s.every(ctx, interval, "refresh", func(ctx context.Context) error {
		return s.Refresh(ctx)
	})
}

// RunSnapshots exports a catalog snapshot every interval until ctx is
// cancelled.
func (s *MarketService) RunSnapshots(ctx context.Context, interval time.Duration) error {
	return s.every(ctx, interval, "snapshot", func(ctx context.Context) error {
		_, err := s.ExportSnapshot(ctx)
		return err
	})
}

func (s *MarketService) every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("market_service: %s interval must be positive", name)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				s.logger.WarnContext(ctx, "market_service: periodic "+name+" failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// begin checks that a wallet is configured and takes the per-account
// submission lock. The returned func releases the lock.
func (s *MarketService) begin(ctx context.Context) (func(), error) {
	if s.wallet == nil {
		return nil, domain.ErrReadOnly
	}
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, "submit:"+s.wallet.Address().Hex(), s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "market_service: lock unavailable, submitting unlocked",
			slog.String("error", err.Error()),
		)
		return func() {}, nil
	}
	return unlock, nil
}

// displayPrice renders an accepted price in canonical form at the ledger's
// decimals, falling back to the input as given.
func (s *MarketService) displayPrice(ctx context.Context, price string) string {
	v, err := units.ToBaseUnits(price, s.decimals)
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: price not canonicalized",
			slog.String("price", price),
			slog.String("error", err.Error()),
		)
		return price
	}
	return units.ToDecimalString(v, s.decimals)
}

func (s *MarketService) recordActivity(ctx context.Context, a domain.Activity) {
	a.CreatedAt = time.Now().UTC()
	if s.activity != nil {
		if err := s.activity.Record(ctx, a); err != nil {
			s.logger.WarnContext(ctx, "market_service: activity record failed",
				slog.String("tx", a.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(ctx, event.ChannelActivity, event.Event{
		Type:    event.TypeActivity,
		Account: a.Account,
		At:      a.CreatedAt,
		Payload: a,
	})
}

func (s *MarketService) notify(ctx context.Context, name, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, name, title, message); err != nil {
		s.logger.WarnContext(ctx, "market_service: notify failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

// publishViews caches the primary session's views and pushes both on the
// bus.
func (s *MarketService) publishViews(ctx context.Context, sess *Synchronizer) {
	views := s.cacheViews(ctx, sess)
	s.publish(ctx, event.ChannelCatalog, event.Event{
		Type:    event.TypeCatalog,
		Account: views.Account.Hex(),
		At:      views.UpdatedAt,
		Payload: views.Catalog,
	})
	s.publishOwnedView(ctx, views)
}

// publishOwned is publishViews for owned-only sessions, whose catalog view
// is always empty.
func (s *MarketService) publishOwned(ctx context.Context, sess *Synchronizer) {
	s.publishOwnedView(ctx, s.cacheViews(ctx, sess))
}

func (s *MarketService) publishOwnedView(ctx context.Context, views domain.Views) {
	if views.Account == domain.NoAccount {
		return
	}
	s.publish(ctx, event.OwnedChannel(views.Account.Hex()), event.Event{
		Type:    event.TypeOwned,
		Account: views.Account.Hex(),
		At:      views.UpdatedAt,
		Payload: views.Owned,
	})
}

func (s *MarketService) cacheViews(ctx context.Context, sess *Synchronizer) domain.Views {
	views := sess.Snapshot()
	if s.cache != nil {
		if err := s.cache.Set(ctx, views); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("account", views.Account.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return views
}

func (s *MarketService) publish(ctx context.Context, channel string, e event.Event) {
	if s.bus == nil {
		return
	}
	frame, err := event.Encode(e)
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: encode event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, channel, frame); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// refreshPreviousOwner rebuilds the owned view of the seller's session, if
// this process has one, so it stops listing the sold item.
func (s *MarketService) refreshPreviousOwner(ctx context.Context, owner common.Address) {
	other, ok := s.sessions.Lookup(owner)
	if !ok {
		return
	}
	if err := other.RefreshOwned(ctx, owner); err != nil {
		s.logger.WarnContext(ctx, "market_service: seller view refresh failed",
			slog.String("account", owner.Hex()),
			slog.String("error", err.Error()),
		)
	}
	s.publishOwned(ctx, other)
}
