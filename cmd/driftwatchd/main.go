package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftwatch/driftwatch/internal/buildinfo"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/engine"
	"github.com/driftwatch/driftwatch/internal/filesys"
	"github.com/driftwatch/driftwatch/internal/ledger"
	"github.com/driftwatch/driftwatch/internal/log"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/internal/persist"
	"github.com/driftwatch/driftwatch/internal/resolver"
	"github.com/driftwatch/driftwatch/pkg/api"
)

func main() {
	defer log.Sync()
	log.Infof("driftwatchd %s starting", buildinfo.String())

	// load config
	cfgPath := config.DefaultPath()
	provider := config.NewWithPath(filesys.OS(), cfgPath)
	cfg, err := provider.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// open the state database and restore the working set
	db, err := persist.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("opening state database: %v", err)
	}
	defer db.Close()

	snap, err := db.Load()
	if err != nil {
		log.Fatalf("loading state: %v", err)
	}

	store := ledger.NewStore()
	store.Restore(snap)

	// build deps
	center := notify.NewCenter(
		notify.WithTTL(cfg.Notifications.TTL),
		notify.WithLimit(cfg.Notifications.Max),
	)
	eng := engine.New(store, buildResolver(cfg), db, center)

	// hot reload swaps the resolver; everything else needs a restart
	watcher, err := config.NewWatcher(provider, cfgPath, func(c *config.Config) error {
		eng.SetResolver(buildResolver(c))
		log.Infof("resolver transport now %s", c.Resolver.Transport)
		return nil
	})
	if err != nil {
		log.Fatalf("config watcher: %v", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start the api over unix socket
	apiSrv := api.New(eng)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", cfg.Socket.Path)
		if err := apiSrv.ListenAndServe(cfg.Socket.Path); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		center.Run(ctx)
		return nil
	})
	g.Go(func() error {
		watcher.Run(ctx)
		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down…")

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return apiSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("daemon error: %v", err)
	}
}

// buildResolver constructs the lookup client the configuration selects.
func buildResolver(cfg *config.Config) resolver.Clienter {
	if cfg.Resolver.Transport == config.TransportPlain {
		return resolver.NewPlain(
			cfg.Resolver.Timeout,
			resolver.WithResolvers([]string{cfg.Resolver.PlainAddress}),
		)
	}
	return resolver.NewHTTPS(
		cfg.Resolver.Timeout,
		resolver.WithEndpoint(cfg.Resolver.Endpoint),
	)
}
