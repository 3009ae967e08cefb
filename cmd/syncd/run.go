package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/creditapp/offlinesync/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the daemon: probe server reachability, sync on reconnect and on a
periodic schedule, and purge acknowledged records past the retention
window. Stops cleanly on SIGINT or SIGTERM; an in-flight cycle finishes
its bookkeeping before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := a.manager.Start(ctx); err != nil {
			return err
		}
		defer a.manager.Stop()

		log := logging.WithComponent("daemon")

		// Retention purge runs daily; the interval is generous because
		// purging is pure housekeeping.
		purger := cron.New()
		if _, err := purger.AddFunc("@daily", func() {
			if _, err := a.manager.PurgeSynced(ctx, a.cfg.Retention); err != nil {
				log.WithError(err).Warn("retention purge failed")
			}
		}); err != nil {
			return err
		}
		purger.Start()
		defer purger.Stop()

		log.WithField("server", a.cfg.ServerURL).Info("sync daemon started")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.WithField("signal", s.String()).Info("shutting down")

		cancel()
		// Give the monitor a moment to wind down its goroutines.
		time.Sleep(100 * time.Millisecond)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
