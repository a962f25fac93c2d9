package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <disc-id>",
		Short: "Show a disc's current record and the versions it replaced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				rec, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				changes, err := svc.Store().ProvenanceHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"disc":    rec,
						"history": changes,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s (%s)\ncurrent: %s from %s, updated %s\n",
					rec.Brand, rec.Mold, rec.ID, formatSignature(rec.Signature),
					rec.Provenance.Source, rec.Provenance.UpdatedAt.Format("2006-01-02 15:04:05"))
				if len(changes) == 0 {
					return nil
				}
				fmt.Fprintln(out)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "REPLACED\tFLIGHT\tSOURCE\tSCHEMA\tUPDATED")
				for _, c := range changes {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						c.ReplacedAt.Format("2006-01-02 15:04:05"), formatSignature(c.Signature),
						c.Provenance.Source, c.Provenance.SchemaVersion,
						c.Provenance.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
}
