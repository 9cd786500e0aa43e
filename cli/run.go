// ABOUTME: run command dispatching one JSON sync event, the way a scheduler or queue trigger would
// ABOUTME: Reads the event from an argument, a file, or stdin
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BLEND360/hubspot-deals-export/sync"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	File string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [event-json | -]",
		Short: "Dispatch one sync event",
		Long: `Dispatch one sync event and record its outcome in the sync status.

Example:
  deals-export run '{"event":"SCHEDULE_FETCH"}'
  deals-export run '{"event":"MANUAL_SYNC","sync_from":"2026-03-01T00:00:00Z"}'
  echo '{"event":"SINGLE_DEAL_UPDATE","deal_id":"123"}' | deals-export run -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readEvent(cmd.InOrStdin(), opts.File, args)
			if err != nil {
				return err
			}
			ev, err := sync.ParseEvent(payload)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts.RootOptions, true)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.runner.Dispatch(cmd.Context(), ev)
			if errors.Is(err, sync.ErrRunInProgress) {
				fmt.Fprintln(cmd.OutOrStdout(), "Sync already in progress, skipped")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s completed\n", ev.Event)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the event from a JSON file")
	return cmd
}

func readEvent(stdin io.Reader, file string, args []string) ([]byte, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read event file %s", file)
		}
		return data, nil
	case len(args) == 1 && args[0] != "-":
		return []byte(args[0]), nil
	case len(args) == 1:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, eris.Wrap(err, "failed to read event from stdin")
		}
		return data, nil
	default:
		return nil, eris.New("an event is required: pass JSON, --file, or - for stdin")
	}
}
