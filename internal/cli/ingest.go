package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/internal/feed"
)

func newIngestCmd(a *app) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Load raw disc records from a JSONL or PDGA CSV file",
		Long: "Normalize and store raw disc records. A .csv file is read as the PDGA\n" +
			"approved-disc list; anything else is JSONL raw records, snappy-framed\n" +
			"when the name ends in .sz. Invalid records are reported and skipped;\n" +
			"records older than the stored version are kept out.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var f feed.Feed = &feed.FileFeed{Path: args[0], Logger: a.logger}
			if strings.EqualFold(filepath.Ext(args[0]), ".csv") {
				f = &feed.CSVFeed{Path: args[0], Source: source}
			}
			raws, err := f.PullUpdatesSince(ctx, time.Time{})
			if err != nil {
				return err
			}

			return a.withService(ctx, func(svc *catalog.Service) error {
				res, err := svc.Ingest(ctx, raws)
				if err != nil {
					return err
				}
				return printIngest(cmd, a.flags.jsonMode, res)
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source name for CSV rows (default: pdga)")
	return cmd
}

func printIngest(cmd *cobra.Command, jsonMode bool, res catalog.IngestResult) error {
	out := cmd.OutOrStdout()
	if jsonMode {
		rejected := make([]map[string]any, len(res.Rejected))
		for i, r := range res.Rejected {
			rejected[i] = map[string]any{"index": r.Index, "source": r.Source, "error": r.Err.Error()}
		}
		return printJSON(out, map[string]any{
			"received": res.Received,
			"inserted": res.Batch.Inserted,
			"updated":  res.Batch.Updated,
			"stale":    res.Batch.Stale,
			"rejected": rejected,
		})
	}
	fmt.Fprintf(out, "received %d, inserted %d, updated %d, stale %d, rejected %d\n",
		res.Received, res.Batch.Inserted, res.Batch.Updated, res.Batch.Stale, len(res.Rejected))
	for _, r := range res.Rejected {
		fmt.Fprintf(out, "  record %d: %v\n", r.Index, r.Err)
	}
	return nil
}
