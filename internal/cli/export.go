package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the catalog as JSONL",
		Long: "Write every stored disc record as one JSON object per line. Without a\n" +
			"file the records go to stdout; a name ending in .sz is snappy-framed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				if len(args) == 0 {
					_, err := svc.Store().Export(ctx, cmd.OutOrStdout())
					return err
				}
				n, err := svc.Store().ExportFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d discs to %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore disc records from an export",
		Long: "Apply records written by export. Records older than what is stored are\n" +
			"kept out, so importing an old backup never rolls the catalog back.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				res, err := svc.Store().Import(ctx, args[0], svc.Normalizer())
				if err != nil {
					return err
				}
				if _, err := svc.Refresh(ctx); err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]int{
						"inserted":  res.Inserted,
						"updated":   res.Updated,
						"stale":     res.Stale,
						"malformed": res.Malformed,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "inserted %d, updated %d, stale %d, malformed %d\n",
					res.Inserted, res.Updated, res.Stale, res.Malformed)
				return nil
			})
		},
	}
}
