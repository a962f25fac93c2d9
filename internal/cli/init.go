package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/internal/paths"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config file and the catalog database",
		Long: "Create the configuration directory with a default config.yaml if missing,\n" +
			"then create or migrate the catalog database in the data directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *catalog.Service) error {
				n, err := svc.Store().Count(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.flags.jsonMode {
					return printJSON(out, map[string]any{
						"config":         paths.ConfigFile(a.configDir),
						"data_dir":       a.cfg.DataDir,
						"schema_version": svc.Store().SchemaVersion(),
						"discs":          n,
					})
				}
				fmt.Fprintf(out, "flightbag initialized\nconfig:   %s\ndata dir: %s\nschema:   v%d\ndiscs:    %d\n",
					paths.ConfigFile(a.configDir), a.cfg.DataDir, svc.Store().SchemaVersion(), n)
				return nil
			})
		},
	}
}
