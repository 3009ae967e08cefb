package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/creditapp/offlinesync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state: watermark, queue depth, last cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()

		mark, err := a.store.GetMeta(ctx, store.MetaLastSync)
		if err != nil {
			return err
		}
		if mark == "" {
			mark = "(never synced)"
		}
		fmt.Printf("watermark: %s\n", mark)

		n, err := a.manager.CountPending(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pending changes: %d\n", n)

		last, err := a.manager.LastSession(ctx)
		if err != nil {
			return err
		}
		if last == nil {
			fmt.Println("last cycle: none recorded")
			return nil
		}

		fmt.Printf("last cycle: %s, pushed=%d failed=%d rejected=%d pulled=%d (%s)\n",
			time.Unix(last.StartedAt, 0).Format(time.RFC3339),
			last.Pushed, last.Failed, last.Rejected, last.Pulled, last.Duration())
		if last.Error != "" {
			fmt.Printf("last cycle error: %s\n", last.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
