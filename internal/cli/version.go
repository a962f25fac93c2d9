package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/pkg/flightbag"
)

const modulePath = "github.com/mesh-intelligence/flightbag"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flightbag version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "flightbag v%s\nmodule: %s\n", flightbag.Version, modulePath)
			return nil
		},
	}
}
