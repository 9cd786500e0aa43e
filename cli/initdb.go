// ABOUTME: init-db command creating the warehouse tables
// ABOUTME: Can print the DDL for either dialect instead of applying it
package cli

import (
	"fmt"
	"io"

	"github.com/BLEND360/hubspot-deals-export/config"
	"github.com/BLEND360/hubspot-deals-export/db"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// InitDBOptions holds flags for the init-db command.
type InitDBOptions struct {
	*RootOptions
	Print   bool
	Dialect string
}

// NewInitDBCommand creates the init-db command.
func NewInitDBCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitDBOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create missing warehouse tables",
		Long: `Create any missing warehouse tables. Existing tables are left unchanged.

Example:
  deals-export init-db
  deals-export init-db --print --dialect postgres > schema.sql`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Print {
				return printSchema(cmd.OutOrStdout(), opts.Dialect)
			}

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if err := cfg.Require(config.KeyWarehouseDSN); err != nil {
				return err
			}
			w, err := db.OpenDatabase(cmd.Context(), cfg.WarehouseDSN)
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s warehouse initialized\n", w.Dialect())
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Print, "print", false, "print the DDL instead of applying it")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "sqlite", "DDL dialect for --print (sqlite or postgres)")
	return cmd
}

func printSchema(out io.Writer, dialect string) error {
	var d db.Dialect
	switch dialect {
	case "sqlite":
		d = db.DialectSQLite
	case "postgres":
		d = db.DialectPostgres
	default:
		return eris.Errorf("unknown dialect %q", dialect)
	}
	for _, stmt := range db.SchemaSQL(d) {
		if _, err := fmt.Fprintf(out, "%s;\n", stmt); err != nil {
			return err
		}
	}
	return nil
}
