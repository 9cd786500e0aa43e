// ABOUTME: queue commands inspecting the webhook queue and its dead letters
// ABOUTME: Opens the queue directory directly, so run them while serve is stopped
package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BLEND360/hubspot-deals-export/config"
	"github.com/BLEND360/hubspot-deals-export/queue"
	"github.com/spf13/cobra"
)

// NewQueueCommand creates the queue command and its subcommands.
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the webhook queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "depth",
		Short: "Show pending and dead letter counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, func(q *queue.Queue) error {
				depth, err := q.Depth()
				if err != nil {
					return err
				}
				dead, err := q.DeadLetters()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pending: %d\nDead:    %d\n", depth, len(dead))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dead",
		Short: "List messages that exhausted their attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, func(q *queue.Queue) error {
				dead, err := q.DeadLetters()
				if err != nil {
					return err
				}
				return writeEntries(cmd.OutOrStdout(), dead)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue",
		Short: "Move dead letters back to the pending queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, func(q *queue.Queue) error {
				n, err := q.Requeue()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Requeued %d message(s)\n", n)
				return nil
			})
		},
	})

	return cmd
}

func withQueue(opts *RootOptions, fn func(*queue.Queue) error) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Require(config.KeyQueueDir); err != nil {
		return err
	}
	q, err := queue.Open(cfg.QueueDir)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()
	return fn(q)
}

func writeEntries(out io.Writer, entries []queue.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No messages.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECEIVED\tATTEMPTS\tDEALS\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.ReceivedAt.UTC().Format(time.RFC3339), e.Attempts, strings.Join(e.DealIDs, ","), e.LastError)
	}
	return tw.Flush()
}
