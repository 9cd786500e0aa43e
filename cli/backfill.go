// ABOUTME: backfill command re-syncing every deal modified since a point in time
// ABOUTME: Accepts timestamps or natural language such as "last monday" or "3 days ago"
package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/BLEND360/hubspot-deals-export/sync"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Since string
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-sync deals modified since a point in time",
		Long: `Dispatch BACK_FILL_FETCH for every deal modified since --since.

Example:
  deals-export backfill --since 2026-03-01T00:00:00Z
  deals-export backfill --since "last monday"
  deals-export backfill --since "3 days ago"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := parseSince(opts.Since, time.Now())
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts.RootOptions, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ev := sync.Event{Event: models.EventBackFillFetch, SyncFrom: since.Format(sync.BackfillLayout)}
			err = a.runner.Dispatch(cmd.Context(), ev)
			if errors.Is(err, sync.ErrRunInProgress) {
				fmt.Fprintln(cmd.OutOrStdout(), "Sync already in progress, skipped")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Backfill since %s completed\n", ev.SyncFrom)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Since, "since", "", "start of the backfill window (required)")
	_ = cmd.MarkFlagRequired("since")
	return cmd
}

// parseSince resolves a timestamp or a natural language expression relative
// to now, truncated to whole seconds in UTC.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("--since is required")
	}
	if t, err := sync.ParseSyncFrom(s); err == nil {
		return t.Truncate(time.Second), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "failed to parse --since %q", s)
	}
	if r == nil {
		return time.Time{}, eris.Errorf("could not understand --since %q", s)
	}
	if r.Time.After(now) {
		return time.Time{}, eris.Errorf("--since %q is in the future", s)
	}
	return r.Time.UTC().Truncate(time.Second), nil
}
