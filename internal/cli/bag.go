package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

func newBagCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bag",
		Short: "Manage bags of discs",
		Long:  "Bags are named sets of catalog discs. A bag can be given by id or name.",
	}
	cmd.AddCommand(
		newBagCreateCmd(a),
		newBagListCmd(a),
		newBagShowCmd(a),
		newBagAddCmd(a),
		newBagRemoveCmd(a),
		newBagCopyCmd(a),
		newBagDeleteCmd(a),
	)
	return cmd
}

func newBagCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty bag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				bag, err := svc.Store().CreateBag(ctx, args[0])
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), bag)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created bag %q (%s)\n", bag.Name, bag.ID)
				return nil
			})
		},
	}
}

func newBagListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				bags, err := svc.Store().ListBags(ctx)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), bags)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tDISCS\tUPDATED")
				for _, b := range bags {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", b.ID, b.Name, len(b.Entries), b.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
}

func newBagShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <bag>",
		Short: "Show the discs in a bag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				bag, err := findBag(ctx, svc.Store(), args[0])
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), bag)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Bag:     %s (%s)\nVersion: %d\n\n", bag.Name, bag.ID, bag.Version)
				if len(bag.Entries) == 0 {
					fmt.Fprintln(out, "no discs")
					return nil
				}
				snap := svc.Snapshot()
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ENTRY\tDISC\tPLASTIC\tFLIGHT\tTHROW")
				for _, e := range bag.Entries {
					flight := "?"
					if sig, err := catalog.Resolver(snap)(e.DiscID, e.Plastic); err == nil {
						flight = formatSignature(sig)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.EntryID, e.DiscID, e.Plastic, flight, e.Orientation)
				}
				return tw.Flush()
			})
		},
	}
}

func newBagAddCmd(a *app) *cobra.Command {
	var (
		plastic     string
		orientation string
		weight      float64
	)
	cmd := &cobra.Command{
		Use:   "add <bag> <disc-id>",
		Short: "Add a catalog disc to a bag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := types.ParseOrientation(orientation)
			if err != nil {
				return err
			}
			entry := types.BagEntry{DiscID: args[1], Plastic: plastic, Orientation: o}
			if cmd.Flags().Changed("weight") {
				entry.WeightG = &weight
			}

			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				bag, err := findBag(ctx, svc.Store(), args[0])
				if err != nil {
					return err
				}
				added, err := svc.AddToBag(ctx, bag.ID, entry)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), added)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s to %q as %s\n", added.DiscID, bag.Name, added.EntryID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&plastic, "plastic", "", "plastic name")
	cmd.Flags().StringVar(&orientation, "orientation", string(types.Backhand), "backhand, forehand or both")
	cmd.Flags().Float64Var(&weight, "weight", 0, "disc weight in grams")
	return cmd
}

func newBagRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <bag> <entry-id>",
		Short: "Remove an entry from a bag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				bag, err := findBag(ctx, svc.Store(), args[0])
				if err != nil {
					return err
				}
				if err := svc.Store().RemoveEntry(ctx, bag.ID, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %q\n", args[1], bag.Name)
				return nil
			})
		},
	}
}

func newBagCopyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <from-bag> <entry-id> <to-bag>",
		Short: "Copy an entry into another bag",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				from, err := findBag(ctx, svc.Store(), args[0])
				if err != nil {
					return err
				}
				to, err := findBag(ctx, svc.Store(), args[2])
				if err != nil {
					return err
				}
				copied, err := svc.Store().CopyEntry(ctx, from.ID, args[1], to.ID)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), copied)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "copied %s to %q as %s\n", copied.DiscID, to.Name, copied.EntryID)
				return nil
			})
		},
	}
}

func newBagDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bag>",
		Short: "Delete a bag and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *catalog.Service) error {
				bag, err := findBag(ctx, svc.Store(), args[0])
				if err != nil {
					return err
				}
				if err := svc.Store().DeleteBag(ctx, bag.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted bag %q\n", bag.Name)
				return nil
			})
		},
	}
}
