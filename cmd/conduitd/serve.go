package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-run/conduitd/internal/config"
	"github.com/conduit-run/conduitd/internal/eventbus"
	"github.com/conduit-run/conduitd/internal/httpapi"
	"github.com/conduit-run/conduitd/internal/logging"
	"github.com/conduit-run/conduitd/internal/permission"
	"github.com/conduit-run/conduitd/internal/session"
	"github.com/conduit-run/conduitd/internal/store"
)

var serveLog = logging.For("serve")

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the daemon and its HTTP/WebSocket front door",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus := eventbus.New()
	perm := permission.New(st)
	mgr := session.New(cfg, st, bus, perm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.OrphanCleanup(ctx); err != nil {
		serveLog.WithError(err).Warn("orphan cleanup at startup failed")
	}

	seedRules, err := permission.LoadSeedFile(cfg.Permission.SeedFile)
	if err != nil {
		serveLog.WithError(err).WithField("path", cfg.Permission.SeedFile).Warn("failed to load permission seed file")
	} else if err := perm.ApplySeed(ctx, seedRules); err != nil {
		serveLog.WithError(err).Warn("failed to apply permission seed file")
	}
	perm.WatchSeedFile(ctx, cfg.Permission.SeedFile)

	front := httpapi.New(mgr, bus, st)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: front.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() {
		serveLog.WithField("addr", cfg.HTTP.Listen).Info("conduitd listening")
		serveErrCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		serveLog.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			cancel()
			return fmt.Errorf("http server: %w", err)
		}
	}

	cancel()
	mgr.Shutdown(context.Background())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
