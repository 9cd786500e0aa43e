// ABOUTME: status and release commands for the DEALS sync status record
// ABOUTME: Colors the output with lipgloss when stdout is a terminal
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("170"))

	statusLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Width(16)

	statusIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	statusBusyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("9"))

	statusMutedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true)
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync status and watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.coord.Status(cmd.Context())
			if err != nil {
				return err
			}
			styled := term.IsTerminal(int(os.Stdout.Fd()))
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(status, time.Now(), styled))
			return nil
		},
	}
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Clear a stuck sync lease",
		Long: `Force the DEALS sync status back to IDLE so the next run can claim it.
Use only when a run died without releasing its lease and you cannot wait for it to expire.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.coord.Release(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Sync lease released")
			return nil
		},
	}
}

func renderStatus(s *models.SyncStatus, now time.Time, styled bool) string {
	paint := func(style lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return style.Render(text)
	}

	var b strings.Builder
	b.WriteString(paint(statusTitleStyle, "Deals sync status"))
	b.WriteString("\n")

	if s == nil {
		b.WriteString(paint(statusMutedStyle, "No sync has run yet."))
		b.WriteString("\n")
		return b.String()
	}

	row := func(label, value string) {
		b.WriteString(paint(statusLabelStyle, fmt.Sprintf("%-16s", label)))
		b.WriteString(value)
		b.WriteString("\n")
	}

	state := s.SyncStatus
	switch {
	case s.InProgress(now):
		state = paint(statusBusyStyle, state)
	case s.SyncStatus == models.StatusProcessing:
		state = paint(statusErrorStyle, state+" (lease expired)")
	default:
		state = paint(statusIdleStyle, state)
	}
	row("Status:", state)

	outcome := s.LastSyncStatus
	if outcome == models.OutcomeFailed {
		outcome = paint(statusErrorStyle, outcome)
	}
	row("Last outcome:", orDash(outcome))
	row("Last event:", orDash(s.UpdateEvent))
	row("Watermark:", formatStamp(s.LastUpdatedOn, now))
	row("Last failure:", formatStamp(s.LastFailedOn, now))
	if s.RunID != "" {
		row("Run:", s.RunID)
		row("Lease expires:", formatStamp(s.LeaseExpiresAt, now))
	}
	return b.String()
}

func formatStamp(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	stamp := t.UTC().Format(time.RFC3339)
	if t.After(now) {
		return fmt.Sprintf("%s (in %s)", stamp, t.Sub(now).Truncate(time.Second))
	}
	return fmt.Sprintf("%s (%s ago)", stamp, now.Sub(*t).Truncate(time.Second))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
