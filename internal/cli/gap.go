package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

func newGapCmd(a *app) *cobra.Command {
	var listEmpty bool
	cmd := &cobra.Command{
		Use:   "gap <bag>",
		Short: "Show which speed and stability slots a bag leaves open",
		Long: "Project every disc in the bag onto the speed by stability grid from\n" +
			"config.yaml. The matrix shows the number of discs in each cell, with\n" +
			"stability rising upward; '.' marks a gap.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				bag, err := findBag(ctx, svc.Store(), args[0])
				if err != nil {
					return err
				}
				report, err := svc.AnalyzeBag(ctx, bag.ID)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), report)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Bag %q: %d occupied, %d empty\n\n", bag.Name, report.Occupied, report.Empty)
				renderMatrix(out, report)
				if listEmpty {
					fmt.Fprintln(out)
					renderGaps(out, report)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&listEmpty, "list", false, "also list each empty cell with its nearest disc")
	return cmd
}

func renderMatrix(w io.Writer, r *types.GapReport) {
	const cellWidth = 5
	for row := r.Rows - 1; row >= 0; row-- {
		first := r.Cell(row, 0)
		fmt.Fprintf(w, "%6s |", num(first.StabilityMin))
		for col := 0; col < r.Cols; col++ {
			c := r.Cell(row, col)
			mark := "."
			if c.Occupied {
				mark = fmt.Sprint(len(c.OccupyingDiscIDs))
			}
			fmt.Fprintf(w, "%*s", cellWidth, mark)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%6s +%s\n", "", strings.Repeat("-", cellWidth*r.Cols))
	fmt.Fprintf(w, "%6s  ", "speed")
	for col := 0; col < r.Cols; col++ {
		fmt.Fprintf(w, "%*s", cellWidth, num(r.Cell(0, col).SpeedMin))
	}
	fmt.Fprintln(w)
}

func renderGaps(w io.Writer, r *types.GapReport) {
	for i := range r.Cells {
		c := &r.Cells[i]
		if c.Occupied {
			continue
		}
		fmt.Fprintf(w, "speed %s-%s, stability %s-%s", num(c.SpeedMin), num(c.SpeedMax), num(c.StabilityMin), num(c.StabilityMax))
		if c.NearestOccupiedDistance != nil {
			fmt.Fprintf(w, ": nearest %s (%.2f cells)", c.NearestDiscID, *c.NearestOccupiedDistance)
		}
		fmt.Fprintln(w)
	}
}
