package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/internal/sqlite"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

type rangeFlags struct {
	speedMin, speedMax         float64
	stabilityMin, stabilityMax float64
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		f  sqlite.SearchFilter
		rf rangeFlags
	)
	cmd := &cobra.Command{
		Use:   "search [text...]",
		Short: "Find catalog discs by brand, mold and flight range",
		Long: "Every word of text must appear in the brand or mold. Speed and stability\n" +
			"ranges are inclusive.\n\n" +
			"Example:\n" +
			"  flightbag search innova wraith\n" +
			"  flightbag search --speed-min 9 --speed-max 11 --stability-min 2",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("speed-min") {
				f.SpeedMin = &rf.speedMin
			}
			if flags.Changed("speed-max") {
				f.SpeedMax = &rf.speedMax
			}
			if flags.Changed("stability-min") {
				f.StabilityMin = &rf.stabilityMin
			}
			if flags.Changed("stability-max") {
				f.StabilityMax = &rf.stabilityMax
			}

			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				recs, err := svc.Search(ctx, strings.Join(args, " "), f)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				printDiscs(cmd, recs)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.Brand, "brand", "", "exact brand, case-insensitive")
	flags.StringVar(&f.Source, "source", "", "only records from this source")
	flags.Float64Var(&rf.speedMin, "speed-min", 0, "minimum speed")
	flags.Float64Var(&rf.speedMax, "speed-max", 0, "maximum speed")
	flags.Float64Var(&rf.stabilityMin, "stability-min", 0, "minimum stability (turn + fade)")
	flags.Float64Var(&rf.stabilityMax, "stability-max", 0, "maximum stability")
	flags.IntVar(&f.Limit, "limit", 50, "maximum results, 0 for all")
	return cmd
}

func printDiscs(cmd *cobra.Command, recs []*types.DiscRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no discs found")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBRAND\tMOLD\tFLIGHT\tSOURCE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Brand, r.Mold, formatSignature(r.Signature), r.Provenance.Source)
	}
	tw.Flush()
}
