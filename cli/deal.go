// ABOUTME: deal command syncing specific deals by id
// ABOUTME: One id runs SINGLE_DEAL_UPDATE, several run BULK_DEALS_UPDATE
package cli

import (
	"fmt"
	"strings"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/BLEND360/hubspot-deals-export/sync"
	"github.com/spf13/cobra"
)

// NewDealCommand creates the deal command.
func NewDealCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deal <deal-id>...",
		Short: "Sync one or more deals by id",
		Long: `Fetch the given deals from the CRM and reconcile them into the warehouse.

Example:
  deals-export deal 12345678901
  deals-export deal 111 222 333`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := dealEvent(args)

			a, err := newApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.runner.Dispatch(cmd.Context(), ev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Synced %s\n", strings.Join(args, ", "))
			return nil
		},
	}
}

func dealEvent(ids []string) sync.Event {
	if len(ids) == 1 {
		return sync.Event{Event: models.EventSingleDealUpdate, DealID: ids[0]}
	}
	return sync.Event{Event: models.EventBulkDealsUpdate, DealIDs: ids}
}
