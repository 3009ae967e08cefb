// Package main is the offline sync daemon and its operator commands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/creditapp/offlinesync/internal/config"
	"github.com/creditapp/offlinesync/internal/logging"
	"github.com/creditapp/offlinesync/internal/monitor"
	"github.com/creditapp/offlinesync/internal/offline"
	"github.com/creditapp/offlinesync/internal/queue"
	"github.com/creditapp/offlinesync/internal/store"
	syncpkg "github.com/creditapp/offlinesync/internal/sync"
	"github.com/creditapp/offlinesync/internal/sync/transport"
)

// Version is set at build time.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "syncd",
	Short:   "Offline-first record sync daemon",
	Version: Version,
	Long: `syncd keeps a local durable record store and synchronizes it with the
central server whenever connectivity allows. Records created while offline
are queued and pushed in dependency order once the server is reachable.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs; close releases the store.
type app struct {
	cfg     *config.Config
	manager *offline.Manager
	store   *store.Store
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp loads configuration and wires the manager. withMonitor
// attaches the connectivity monitor; one-shot commands skip it.
func buildApp(withMonitor bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	st, err := store.Open(cfg.DataDir, store.DefaultCollections())
	if err != nil {
		return nil, err
	}

	q := queue.New(st.DB())
	client, err := transport.NewHTTP(cfg.ServerURL, cfg.AuthToken, cfg.HTTPTimeout)
	if err != nil {
		st.Close()
		return nil, err
	}

	eng := syncpkg.New(st, q, client, syncpkg.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
	}, nil)

	var mon *monitor.Monitor
	if withMonitor {
		mon = monitor.New(client, func(ctx context.Context) { eng.Sync(ctx) }, monitor.Options{
			ProbeInterval: cfg.ProbeEvery,
			SettleDelay:   cfg.SettleDelay,
			SyncInterval:  cfg.SyncInterval,
		})
	}

	return &app{
		cfg:     cfg,
		manager: offline.New(st, q, eng, mon),
		store:   st,
	}, nil
}
