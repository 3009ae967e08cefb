package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		session, err := a.manager.SyncNow(context.Background())
		if session != nil {
			fmt.Printf("pushed=%d failed=%d rejected=%d pulled=%d in %s\n",
				session.Pushed, session.Failed, session.Rejected, session.Pulled, session.Duration())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
