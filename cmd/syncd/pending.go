package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/creditapp/offlinesync/internal/queue"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued changes awaiting sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		q := queue.New(a.store.DB())

		entries, err := q.ListPending(ctx)
		if err != nil {
			return err
		}
		rejected, err := q.ListTerminal(ctx)
		if err != nil {
			return err
		}

		if len(entries) == 0 && len(rejected) == 0 {
			fmt.Println("queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COLLECTION\tLOCAL ID\tOP\tRETRIES\tSTATE\tQUEUED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\tpending\t%s\n",
				e.Collection, e.LocalID, e.Operation, e.RetryCount,
				time.Unix(e.CreatedAt, 0).Format(time.RFC3339))
		}
		for _, e := range rejected {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\trejected: %s\t%s\n",
				e.Collection, e.LocalID, e.Operation, e.RetryCount, e.LastError,
				time.Unix(e.CreatedAt, 0).Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}
