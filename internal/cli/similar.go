package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/internal/similarity"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

func newSimilarCmd(a *app) *cobra.Command {
	var (
		flight      string
		plastic     string
		orientation string
		weights     string
		opts        similarity.Options
	)
	cmd := &cobra.Command{
		Use:   "similar [disc-id]",
		Short: "List catalog discs that fly like a disc or a flight",
		Long: "Rank catalog discs by weighted distance between flight numbers. Name a\n" +
			"catalog disc, or pass --flight to search from raw numbers.\n\n" +
			"Example:\n" +
			"  flightbag similar innova:innova-thunderbird\n" +
			"  flightbag similar --flight 9/5/0/2 --orientation both",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var q similarity.Query
			switch {
			case len(args) == 1 && flight != "":
				return fmt.Errorf("%w: give a disc id or --flight, not both", types.ErrInvalidQuery)
			case len(args) == 1:
				q.DiscID = args[0]
			case flight != "":
				sig, err := parseFlight(flight)
				if err != nil {
					return err
				}
				q.Signature = &sig
			default:
				return fmt.Errorf("%w: give a disc id or --flight", types.ErrInvalidQuery)
			}
			q.Plastic = plastic

			o, err := types.ParseOrientation(orientation)
			if err != nil {
				return err
			}
			opts.Orientation = o
			if weights != "" {
				w, err := parseWeights(weights, a.cfg.Weights)
				if err != nil {
					return err
				}
				opts.WeightOverride = &w
			}

			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				matches, err := svc.FindSimilar(ctx, q, opts)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), matches)
				}
				printMatches(cmd, matches)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&flight, "flight", "", "flight numbers speed/glide/turn/fade[/stability]")
	flags.StringVar(&plastic, "plastic", "", "plastic of the query disc")
	flags.BoolVar(&opts.ExcludeSamePlastic, "exclude-same-plastic", false, "leave out matches in the query plastic")
	flags.IntVar(&opts.MaxResults, "limit", similarity.DefaultMaxResults, "maximum results")
	flags.StringVar(&orientation, "orientation", string(types.Backhand), "backhand, forehand or both")
	flags.StringVar(&weights, "weights", "", "weight overrides, e.g. speed=1,turn=3")
	return cmd
}

func printMatches(cmd *cobra.Command, ms []similarity.Match) {
	if len(ms) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no similar discs")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISTANCE\tID\tBRAND\tMOLD\tPLASTIC\tFLIGHT\tTHROW")
	for _, m := range ms {
		fmt.Fprintf(tw, "%.4f\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Distance, m.DiscID, m.Brand, m.Mold, m.Plastic, formatSignature(m.Signature), m.Orientation)
	}
	tw.Flush()
}
