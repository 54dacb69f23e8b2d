package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/ingest"
	"docrag/internal/loader"
)

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path|glob|dir>...",
		Short: "Index documents into the vector store",
		Long: `Load, chunk and embed the named files. Directories are walked recursively,
skipping hidden entries and unsupported formats. Documents already indexed
(same content hash) are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.Pipeline.IngestPaths(cmd.Context(), args)
			printResult(cmd, res)
			return withInstallHint(err)
		},
	}
}

// withInstallHint appends install steps when a PDF could not be extracted
// because pdftotext is missing.
func withInstallHint(err error) error {
	if errors.Is(err, loader.ErrPDFToolNotFound) {
		return fmt.Errorf("%w\n\n%s", err, loader.InstallInstructions())
	}
	return err
}

func printResult(cmd *cobra.Command, res ingest.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ingested %d documents (%d chunks)\n", res.Documents, res.Chunks)
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "Skipped %s (already indexed)\n", s)
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var settle time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest new files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			// existing files first; an empty directory is fine
			if entries, _ := os.ReadDir(args[0]); len(entries) > 0 {
				res, err := svc.Pipeline.IngestPaths(cmd.Context(), args)
				if err != nil {
					a.logger.Warn("initial ingest incomplete", "dir", args[0], "error", withInstallHint(err))
				}
				printResult(cmd, res)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (ctrl+c to stop)\n", args[0])
			return svc.Pipeline.Watch(ctx, args[0], settle)
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", ingest.DefaultSettle, "Quiet period before a changed file is ingested")
	return cmd
}
