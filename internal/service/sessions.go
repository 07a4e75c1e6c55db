package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const defaultMaxSessions = 64

// SessionManager owns one Synchronizer per account. Sessions share the
// ledger client and nothing else.
//
// At most limit sessions are kept. Creating one more evicts the least
// recently used session, except the pinned one.
type SessionManager struct {
	ledger domain.Ledger
	cfg    SyncConfig
	cache  domain.ViewCache
	limit  int
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[common.Address]*session
	clock    uint64
	pinned   common.Address
	hasPin   bool
}

type session struct {
	sync     *Synchronizer
	lastUsed uint64
}

// NewSessionManager creates an empty SessionManager. cache may be nil; when
// set, new sessions are seeded from it. limit <= 0 selects
// defaultMaxSessions.
func NewSessionManager(ledger domain.Ledger, cfg SyncConfig, cache domain.ViewCache, limit int, logger *slog.Logger) *SessionManager {
	if limit <= 0 {
		limit = defaultMaxSessions
	}
	return &SessionManager{
		ledger:   ledger,
		cfg:      cfg,
		cache:    cache,
		limit:    limit,
		logger:   logger,
		sessions: make(map[common.Address]*session),
	}
}

// Pin exempts account's session from eviction.
func (m *SessionManager) Pin(account common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = account
	m.hasPin = true
}

// Session returns the session for account, creating it on first use.
func (m *SessionManager) Session(ctx context.Context, account common.Address) *Synchronizer {
	m.mu.Lock()
	m.clock++
	entry, ok := m.sessions[account]
	if ok {
		entry.lastUsed = m.clock
	} else {
		entry = &session{sync: NewSynchronizer(m.ledger, m.cfg, m.logger), lastUsed: m.clock}
		m.sessions[account] = entry
	}
	var evicted []common.Address
	for len(m.sessions) > m.limit {
		victim, found := m.leastRecent(account)
		if !found {
			break
		}
		delete(m.sessions, victim)
		evicted = append(evicted, victim)
	}
	m.mu.Unlock()

	for _, a := range evicted {
		m.logger.DebugContext(ctx, "sessions: evicted",
			slog.String("account", a.Hex()),
		)
	}
	if !ok && m.cache != nil {
		m.seed(ctx, entry.sync, account)
	}
	return entry.sync
}

// leastRecent picks the eviction victim, skipping keep and the pinned
// account. Callers hold m.mu.
func (m *SessionManager) leastRecent(keep common.Address) (common.Address, bool) {
	var (
		victim common.Address
		oldest uint64
		found  bool
	)
	for a, e := range m.sessions {
		if a == keep || (m.hasPin && a == m.pinned) {
			continue
		}
		if !found || e.lastUsed < oldest {
			victim, oldest, found = a, e.lastUsed, true
		}
	}
	return victim, found
}

// Lookup returns the session for account without creating one.
func (m *SessionManager) Lookup(account common.Address) (*Synchronizer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[account]
	if !ok {
		return nil, false
	}
	return e.sync, true
}

// Accounts lists the accounts with a session, in byte order.
func (m *SessionManager) Accounts() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.Address, 0, len(m.sessions))
	for a := range m.sessions {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

// Len returns the number of sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) seed(ctx context.Context, s *Synchronizer, account common.Address) {
	views, err := m.cache.Get(ctx, account)
	if err != nil {
		m.logger.DebugContext(ctx, "sessions: no cached views",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	if views.Account != account {
		return
	}
	if s.Seed(views) {
		m.logger.InfoContext(ctx, "sessions: seeded from cache",
			slog.String("account", account.Hex()),
			slog.Int("catalog", len(views.Catalog)),
			slog.Int("owned", len(views.Owned)),
		)
	}
}
