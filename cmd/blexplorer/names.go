package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blexplorer/internal/gattname"
)

func initNamesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "names <uuid>...",
		Short: "Print the assigned names of GATT UUIDs",
		Long: `
This command prints the service and characteristic names assigned to each
UUID. Unknown UUIDs are printed uppercased.
		`,
		Args: cobra.MinimumNArgs(1),
		// Needs neither config nor radio.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			for _, id := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n  service:        %s\n  characteristic: %s\n",
					id, gattname.Service(id), gattname.Characteristic(id))
			}
		},
	}
}
