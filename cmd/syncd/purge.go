package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete acknowledged records past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		retention := purgeOlderThan
		if retention <= 0 {
			retention = a.cfg.Retention
		}

		n, err := a.manager.PurgeSynced(context.Background(), retention)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d records older than %s\n", n, retention)
		return nil
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "override the configured retention window")
	rootCmd.AddCommand(purgeCmd)
}
