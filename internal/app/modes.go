package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsync/internal/server"
	"github.com/alanyoungcy/marketsync/internal/server/handler"
	"github.com/alanyoungcy/marketsync/internal/server/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServerMode loads the views once and serves the HTTP API. Views refresh on
// demand and after each accepted mutation.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.start(ctx, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// SyncMode keeps the views, cache and bus current on a timer and exports
// catalog snapshots when object storage is configured.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting sync mode")

	g, ctx := errgroup.WithContext(ctx)
	a.start(ctx, deps)
	a.startSync(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the sync loops and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.start(ctx, deps)
	a.startSync(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// SnapshotMode refreshes once, exports the catalog and returns.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting snapshot mode")

	if err := deps.Market.Refresh(ctx); err != nil {
		return fmt.Errorf("snapshot mode: %w", err)
	}
	path, err := deps.Market.ExportSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot mode: %w", err)
	}
	a.logger.InfoContext(ctx, "app: snapshot written", slog.String("path", path))
	return nil
}

// start performs the initial load. A failure is logged and retried by the
// refresh loop or the next request.
func (a *App) start(ctx context.Context, deps *Dependencies) {
	_ = deps.Market.Start(ctx)
}

func (a *App) startSync(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Market.Run(ctx, a.cfg.Sync.RefreshInterval.Duration)
	})

	if deps.Snapshots != nil && a.cfg.Sync.SnapshotInterval.Duration > 0 {
		g.Go(func() error {
			return deps.Market.RunSnapshots(ctx, a.cfg.Sync.SnapshotInterval.Duration)
		})
	}
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Market, a.cfg.Mode, a.logger),
		Markets: handler.NewMarketHandler(deps.Market, a.logger),
	}
	if deps.Activity != nil {
		handlers.Activity = handler.NewActivityHandler(deps.Market, a.logger)
	}

	// The WebSocket hub relays bus events, so it needs Redis.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			StartedAt:      time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "app: redis disabled, /ws not served")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
